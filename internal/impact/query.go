// Package impact is the core impact-analysis pipeline: it turns a raw
// graph payload into a normalized, deduplicated model and renders that
// model as a deterministic markdown report. It performs no I/O.
package impact

import (
	"fmt"
	"strings"
)

// EntityType enumerates the database entities impact analysis can
// target.
type EntityType string

const (
	EntityColumn EntityType = "column"
	EntityTable  EntityType = "table"
	EntityView   EntityType = "view"
)

// ParseEntityType validates a database entity type argument.
func ParseEntityType(s string) (EntityType, error) {
	switch EntityType(strings.ToLower(strings.TrimSpace(s))) {
	case EntityColumn:
		return EntityColumn, nil
	case EntityTable:
		return EntityTable, nil
	case EntityView:
		return EntityView, nil
	default:
		return "", fmt.Errorf("unknown entity type %q: must be column, table, or view", s)
	}
}

// Query identifies the root entity an impact report is requested for.
// Exactly one concrete query is constructed per tool invocation and it
// never changes afterwards.
type Query interface {
	// Subject is the human-readable name used in report headings.
	Subject() string
	// matchesRoot reports whether the node looks like this query's
	// root entity.
	matchesRoot(n Node) bool
}

// MethodQuery asks for the impact of changing a method, optionally
// qualified by its containing class.
type MethodQuery struct {
	Method string
	Class  string
}

func (q MethodQuery) Subject() string { return q.Method }

func (q MethodQuery) matchesRoot(n Node) bool {
	if !strings.Contains(strings.ToLower(n.DisplayName), strings.ToLower(q.Method)) {
		return false
	}
	if q.Class == "" {
		return true
	}
	qualified := strings.ToLower(n.Attrs["identity"])
	return strings.Contains(qualified, strings.ToLower(q.Class))
}

// DatabaseQuery asks for the impact of changing a database entity.
// TableOrView qualifies column queries with their containing relation.
type DatabaseQuery struct {
	Type        EntityType
	Name        string
	TableOrView string
}

func (q DatabaseQuery) Subject() string { return q.Name }

func (q DatabaseQuery) matchesRoot(n Node) bool {
	return strings.EqualFold(n.DisplayName, q.Name)
}
