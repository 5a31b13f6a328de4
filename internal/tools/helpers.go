// Package tools implements the MCP tool handlers for knockon.
//
// Each tool is a struct holding its dependencies behind small
// interfaces and exposing Definition() + Handle() for registration.
// The handlers own the dispatch boundary: they validate arguments into
// typed queries, run the pipeline, and turn every typed failure into a
// markdown error report — a tool invocation always returns text.
package tools

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knockon-mcp/knockon/internal/graph"
)

// errorReport formats a pipeline failure as markdown. The taxonomy
// decides the framing: not-found reads like an empty result, auth and
// exhaustion failures carry remediation hints.
func errorReport(subject string, err error) string {
	var sb strings.Builder

	var authErr *graph.AuthError
	var nfErr *graph.NotFoundError
	var qErr *graph.QueryError
	var exErr *graph.FetchExhaustedError

	switch {
	case errors.As(err, &nfErr):
		fmt.Fprintf(&sb, "# No Impact Data for `%s`\n\n", subject)
		fmt.Fprintf(&sb, "`%s` was not found in the knowledge graph.\n\n", nfErr.Entity)
		sb.WriteString("Possible causes:\n")
		sb.WriteString("1. The name is misspelled or differently cased\n")
		sb.WriteString("2. The entity is not part of the configured workspace\n")
		sb.WriteString("3. The workspace scan has not run since the entity was added\n")

	case errors.As(err, &authErr):
		fmt.Fprintf(&sb, "# Impact Analysis Failed for `%s`\n\n", subject)
		sb.WriteString("## Authentication Error\n\n")
		fmt.Fprintf(&sb, "%v\n\n", authErr)
		sb.WriteString("Check the configured username, password, and graph server host.\n")

	case errors.As(err, &exErr):
		fmt.Fprintf(&sb, "# Impact Analysis Failed for `%s`\n\n", subject)
		sb.WriteString("## Graph Server Unavailable\n\n")
		fmt.Fprintf(&sb, "The request kept failing after %d attempts. Last error:\n\n", exErr.Attempts)
		fmt.Fprintf(&sb, "```\n%v\n```\n\n", exErr.Cause)
		sb.WriteString("Recommendations:\n")
		sb.WriteString("1. Try again in a few minutes — the server may be under load\n")
		sb.WriteString("2. Verify connectivity to the graph server\n")
		sb.WriteString("3. If the problem persists, contact your graph server administrator\n")

	case errors.As(err, &qErr):
		fmt.Fprintf(&sb, "# Invalid Impact Query for `%s`\n\n", subject)
		fmt.Fprintf(&sb, "%v\n", qErr)

	default:
		fmt.Fprintf(&sb, "# Impact Analysis Failed for `%s`\n\n", subject)
		fmt.Fprintf(&sb, "Unexpected error: %v\n", err)
	}

	return sb.String()
}

// shortClassName reduces a dotted or fully qualified class name to its
// last segment, matching how the graph server indexes class names.
func shortClassName(class string) string {
	if i := strings.LastIndex(class, "."); i >= 0 {
		return class[i+1:]
	}
	return class
}
