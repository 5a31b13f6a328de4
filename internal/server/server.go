// Package server wires the knockon components and creates the MCP
// server instance. It is the composition root: concrete session,
// fetcher, and recorder instances are created here and injected into
// the tools. No business logic lives here — only wiring.
package server

import (
	"log"
	"net"
	"net/http"

	"github.com/knockon-mcp/knockon/internal/config"
	"github.com/knockon-mcp/knockon/internal/debuglog"
	"github.com/knockon-mcp/knockon/internal/graph"
	"github.com/knockon-mcp/knockon/internal/tools"
	"github.com/mark3labs/mcp-go/server"
)

// Version is set at build time via ldflags.
var Version = "dev"

// New creates and configures the MCP server with both impact tools
// registered. The returned cleanup function closes the diagnostics
// recorder and must be called on shutdown (typically via defer). It is
// always non-nil and safe to call even when debug mode is off.
func New(cfg *config.Config) (*server.MCPServer, func(), error) {
	client := &http.Client{
		Timeout: cfg.RequestTimeout,
		Transport: &http.Transport{
			DialContext:         (&net.Dialer{Timeout: cfg.ConnectTimeout}).DialContext,
			MaxIdleConnsPerHost: 20,
		},
	}

	session := graph.NewSession(cfg.ServerHost, cfg.Username, cfg.Password, cfg.TokenTTL, client)

	policy := graph.DefaultRetryPolicy()
	policy.MaxAttempts = cfg.MaxAttempts
	fetcher := graph.NewFetcher(cfg.ServerHost, cfg.Workspace, session, client, policy)

	s := server.NewMCPServer(
		"knockon",
		Version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions()),
	)

	// Diagnostics are strictly optional: a broken recorder downgrades
	// to a warning and the server runs without it.
	cleanup := noop
	var recorder *debuglog.Recorder
	if cfg.DebugMode {
		rec, err := debuglog.Open(cfg.DebugDBPath)
		if err != nil {
			log.Printf("WARNING: diagnostics recorder disabled: %v", err)
		} else {
			recorder = rec
			cleanup = func() {
				if err := recorder.Close(); err != nil {
					log.Printf("WARNING: diagnostics recorder close: %v", err)
				}
			}
		}
	}

	methodTool := tools.NewMethodImpactTool(fetcher, recorder)
	s.AddTool(methodTool.Definition(), methodTool.Handle)

	databaseTool := tools.NewDatabaseImpactTool(fetcher, recorder)
	s.AddTool(databaseTool.Definition(), databaseTool.Handle)

	return s, cleanup, nil
}

// noop is the default cleanup when no recorder is open.
func noop() {}

// serverInstructions tells the AI when and how to use the impact tools.
func serverInstructions() string {
	return `You have access to knockon, an impact-analysis MCP server backed by a
knowledge graph of the scanned codebase and its databases.

## When to use it

Run an impact analysis BEFORE implementing a change:
- knockon-method-impact: when modifying a method or function. Provide the
  method name and its containing class.
- knockon-database-impact: when modifying a database column, table, or view,
  or code that reads/writes one. Provide the entity type and name; column
  searches also need the containing table or view.

## Reading the report

Each report starts with the entity you asked about, then groups every
relationship by type:
- "(impacts)" sections list entities your change may break downstream.
- "(impacted by)" sections list entities whose behavior feeds into yours —
  changes there can break the entity you asked about.

Prioritize testing for everything listed under "(impacted by)" of the
relationship types that represent calls or references. A report stating
"No impacts were found" means the change appears isolated — still verify
the entity name was spelled exactly as it appears in the codebase.`
}
