package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/knockon-mcp/knockon/internal/debuglog"
	"github.com/knockon-mcp/knockon/internal/graph"
	"github.com/knockon-mcp/knockon/internal/impact"
	"github.com/mark3labs/mcp-go/mcp"
)

// maxDatabaseMatches caps how many search hits get a full impact
// analysis in one combined report.
const maxDatabaseMatches = 5

// DatabaseImpactTool handles the knockon-database-impact MCP tool:
// impact analysis between code and database entities (columns, tables,
// views).
type DatabaseImpactTool struct {
	svc graphService
	rec *debuglog.Recorder // nil when debug mode is off
}

// NewDatabaseImpactTool creates a DatabaseImpactTool. rec may be nil.
func NewDatabaseImpactTool(svc graphService, rec *debuglog.Recorder) *DatabaseImpactTool {
	return &DatabaseImpactTool{svc: svc, rec: rec}
}

// Definition returns the MCP tool definition for registration.
func (t *DatabaseImpactTool) Definition() mcp.Tool {
	return mcp.NewTool("knockon-database-impact",
		mcp.WithDescription(
			"Analyze impacts between code and database entities. "+
				"Search for a column, table, or view and review which code depends on it "+
				"and vice versa. Run this before modifying SQL objects or data-access code.",
		),
		mcp.WithString("entity_type",
			mcp.Required(),
			mcp.Description("Type of database entity to search for"),
			mcp.Enum("column", "table", "view"),
		),
		mcp.WithString("name",
			mcp.Required(),
			mcp.Description("Name of the database entity to search for"),
		),
		mcp.WithString("table_or_view",
			mcp.Description("Name of the table or view containing the column (required for columns)"),
		),
	)
}

// Handle processes the knockon-database-impact tool call.
func (t *DatabaseImpactTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	rawType := req.GetString("entity_type", "")
	name := strings.TrimSpace(req.GetString("name", ""))
	container := strings.TrimSpace(req.GetString("table_or_view", ""))

	entityType, err := impact.ParseEntityType(rawType)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if name == "" {
		return mcp.NewToolResultError("'name' is required — name the database entity to analyze"), nil
	}
	if entityType == impact.EntityColumn && container == "" {
		return mcp.NewToolResultError("'table_or_view' is required for column searches — name the containing table or view"), nil
	}

	start := time.Now()

	entities, err := t.svc.SearchDatabaseEntities(ctx, string(entityType), name, container)
	if err != nil {
		return t.fail(name, start, err)
	}
	if len(entities) == 0 {
		return t.noMatches(entityType, name, container, start)
	}

	if len(entities) > maxDatabaseMatches {
		entities = entities[:maxDatabaseMatches]
	}

	var sections []string
	var lastErr error
	var lastRaw *graph.RawPayload
	for _, e := range entities {
		raw, err := t.svc.FetchImpact(ctx, e.ImpactID())
		if err != nil {
			// Partial results beat none: skip this entity and keep going.
			log.Printf("WARNING: impact fetch for %s %q failed: %v", entityType, e.Name, err)
			lastErr = err
			continue
		}
		lastRaw = raw
		q := impact.DatabaseQuery{Type: entityType, Name: e.Name, TableOrView: container}
		sections = append(sections, impact.Render(impact.Normalize(raw, q)))
	}

	if len(sections) == 0 && lastErr != nil {
		return t.fail(name, start, lastErr)
	}

	report := combineDatabaseReport(entityType, name, container, len(entities), sections)
	t.record(name, start, lastRaw, "")
	return mcp.NewToolResultText(report), nil
}

// noMatches reports an empty search result as a normal outcome.
func (t *DatabaseImpactTool) noMatches(entityType impact.EntityType, name, container string, start time.Time) (*mcp.CallToolResult, error) {
	scope := ""
	if container != "" {
		scope = fmt.Sprintf(" in `%s`", container)
	}
	text := fmt.Sprintf("# No %ss found matching `%s`%s\n\nNo database %ss were found matching the name `%s`%s.\n",
		entityType, name, scope, entityType, name, scope)
	t.record(name, start, nil, "")
	return mcp.NewToolResultText(text), nil
}

// combineDatabaseReport stitches the per-entity reports into one
// document, headed by the search summary.
func combineDatabaseReport(entityType impact.EntityType, name, container string, matches int, sections []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Database Impact Analysis: %s `%s`\n\n", entityType, name)
	if container != "" {
		fmt.Fprintf(&sb, "Scope: `%s`\n\n", container)
	}
	fmt.Fprintf(&sb, "%d matching %s(s) analyzed.\n", matches, entityType)
	for _, s := range sections {
		sb.WriteString("\n---\n\n")
		sb.WriteString(s)
	}
	return sb.String()
}

// fail records the failure and returns its markdown error report.
func (t *DatabaseImpactTool) fail(subject string, start time.Time, err error) (*mcp.CallToolResult, error) {
	t.rec.Record(debuglog.Entry{
		Tool:     "knockon-database-impact",
		Subject:  subject,
		Duration: time.Since(start),
		Error:    err.Error(),
	})
	return mcp.NewToolResultText(errorReport(subject, err)), nil
}

func (t *DatabaseImpactTool) record(subject string, start time.Time, raw *graph.RawPayload, errText string) {
	payload := ""
	if raw != nil {
		if b, err := json.Marshal(raw); err == nil {
			payload = string(b)
		}
	}
	t.rec.Record(debuglog.Entry{
		Tool:     "knockon-database-impact",
		Subject:  subject,
		Duration: time.Since(start),
		Payload:  payload,
		Error:    errText,
	})
}
