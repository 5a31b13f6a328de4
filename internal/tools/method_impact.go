package tools

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/knockon-mcp/knockon/internal/debuglog"
	"github.com/knockon-mcp/knockon/internal/graph"
	"github.com/knockon-mcp/knockon/internal/impact"
	"github.com/mark3labs/mcp-go/mcp"
)

// graphService is the slice of the graph client the tools depend on.
type graphService interface {
	SearchMethodNodes(ctx context.Context, shortName string) ([]graph.SearchNode, error)
	SearchDatabaseEntities(ctx context.Context, entityType, name, container string) ([]graph.SearchNode, error)
	FetchImpact(ctx context.Context, nodeID string) (*graph.RawPayload, error)
}

// MethodImpactTool handles the knockon-method-impact MCP tool: the
// code-to-code impact pipeline for a method within a class.
type MethodImpactTool struct {
	svc graphService
	rec *debuglog.Recorder // nil when debug mode is off
}

// NewMethodImpactTool creates a MethodImpactTool. rec may be nil.
func NewMethodImpactTool(svc graphService, rec *debuglog.Recorder) *MethodImpactTool {
	return &MethodImpactTool{svc: svc, rec: rec}
}

// Definition returns the MCP tool definition for registration.
func (t *MethodImpactTool) Definition() mcp.Tool {
	return mcp.NewTool("knockon-method-impact",
		mcp.WithDescription(
			"Analyze the impact of modifying a specific method within a given class or type. "+
				"Run this before implementing code changes to understand downstream effects: "+
				"the report lists every entity the method impacts and every entity that "+
				"depends on it, grouped by relationship type. "+
				"Particularly important when AI-suggested modifications are being considered.",
		),
		mcp.WithString("method",
			mcp.Required(),
			mcp.Description("Name of the method being analyzed"),
		),
		mcp.WithString("class",
			mcp.Required(),
			mcp.Description("Name of the class containing the method. Dotted names are reduced to the last segment."),
		),
	)
}

// Handle processes the knockon-method-impact tool call.
func (t *MethodImpactTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	method := strings.TrimSpace(req.GetString("method", ""))
	class := strings.TrimSpace(req.GetString("class", ""))

	if method == "" {
		return mcp.NewToolResultError("'method' is required — name the method to analyze"), nil
	}
	class = shortClassName(class)

	q := impact.MethodQuery{Method: method, Class: class}
	start := time.Now()

	nodes, err := t.svc.SearchMethodNodes(ctx, method)
	if err != nil {
		return t.fail(q.Subject(), start, err)
	}
	if len(nodes) == 0 {
		return t.fail(q.Subject(), start, &graph.NotFoundError{Entity: method})
	}

	node, ok := graph.PickMethodNode(nodes, class)
	if !ok {
		return t.fail(q.Subject(), start, &graph.NotFoundError{Entity: class + "." + method})
	}

	raw, err := t.svc.FetchImpact(ctx, node.ImpactID())
	if err != nil {
		return t.fail(q.Subject(), start, err)
	}

	report := impact.Render(impact.Normalize(raw, q))
	t.record(q.Subject(), start, raw, "")
	return mcp.NewToolResultText(report), nil
}

// fail records the failure and returns its markdown error report.
func (t *MethodImpactTool) fail(subject string, start time.Time, err error) (*mcp.CallToolResult, error) {
	t.rec.Record(debuglog.Entry{
		Tool:     "knockon-method-impact",
		Subject:  subject,
		Duration: time.Since(start),
		Error:    err.Error(),
	})
	return mcp.NewToolResultText(errorReport(subject, err)), nil
}

func (t *MethodImpactTool) record(subject string, start time.Time, raw *graph.RawPayload, errText string) {
	payload := ""
	if raw != nil {
		if b, err := json.Marshal(raw); err == nil {
			payload = string(b)
		}
	}
	t.rec.Record(debuglog.Entry{
		Tool:     "knockon-method-impact",
		Subject:  subject,
		Duration: time.Since(start),
		Payload:  payload,
		Error:    errText,
	})
}
