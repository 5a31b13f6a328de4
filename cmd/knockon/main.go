// knockon: impact-analysis MCP server.
//
// A universal MCP server that lets AI coding tools query a knowledge
// graph for code-to-code and code-to-database impact analysis before
// making changes.
//
// Usage:
//
//	knockon serve      # Start MCP server (stdio transport)
//	knockon version    # Print the version
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/knockon-mcp/knockon/internal/config"
	knockonserver "github.com/knockon-mcp/knockon/internal/server"
	"github.com/mark3labs/mcp-go/server"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "serve":
		if err := run(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "--help", "-h", "help":
		printUsage()
		os.Exit(0)
	case "--version", "-v", "version":
		fmt.Printf("knockon v%s\n", knockonserver.Version)
		os.Exit(0)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func run() error {
	// Optional .env next to the working directory; real deployments
	// set the variables in the MCP client config.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	s, cleanup, err := knockonserver.New(cfg)
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}
	defer cleanup()

	return server.ServeStdio(s)
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `knockon v%s — impact-analysis MCP server

Usage:
  knockon serve      Start the MCP server (stdio transport)
  knockon version    Print the version

Configuration (environment, or .env in the working directory):
  KNOCKON_SERVER_HOST       Graph server base URL (required)
  KNOCKON_USERNAME          Graph server username (required)
  KNOCKON_PASSWORD          Graph server password (required)
  KNOCKON_WORKSPACE_NAME    Materialized view to analyze (required)
  KNOCKON_DEBUG_MODE        true to record diagnostics to sqlite
  KNOCKON_TOKEN_CACHE_TTL   Token lifetime in seconds (default 3600)
  KNOCKON_REQUEST_TIMEOUT   Request timeout in seconds (default 120)
  KNOCKON_MAX_ATTEMPTS      Fetch attempts incl. retries (default 4)

MCP client config:

  {
    "mcpServers": {
      "knockon": {
        "command": "knockon",
        "args": ["serve"]
      }
    }
  }
`, knockonserver.Version)
}
