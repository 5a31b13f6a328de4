package impact

import (
	"fmt"
	"log"

	"github.com/knockon-mcp/knockon/internal/graph"
)

// Node is a deduplicated graph entity. Identity is the id; two raw
// nodes with the same id are merged into one Node.
type Node struct {
	ID          string
	Kind        string
	DisplayName string
	Attrs       map[string]string
}

// Direction of an edge relative to the report's root entity.
type Direction int

const (
	// Outgoing edges describe entities the root impacts.
	Outgoing Direction = iota
	// Incoming edges describe entities that impact the root.
	Incoming
)

func (d Direction) String() string {
	if d == Incoming {
		return "incoming"
	}
	return "outgoing"
}

// Edge is a deduplicated relationship between two known nodes.
type Edge struct {
	SourceID  string
	TargetID  string
	Type      string
	Direction Direction
}

// Graph is the normalized impact model handed to the renderer. Edges
// keep payload order; Nodes are keyed by id. RootID is empty when the
// root entity could not be resolved (only possible for a payload with
// no nodes at all). Built fresh per query and discarded after
// rendering.
type Graph struct {
	Nodes   map[string]Node
	Edges   []Edge
	RootID  string
	Subject string
}

// SchemaError describes a duplicate node whose kind or display name
// disagrees with an earlier entry for the same id. Non-fatal: the
// normalizer logs it and keeps the first entry.
type SchemaError struct {
	NodeID string
	Field  string
	Kept   string
	Dropped string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("inconsistent node %s: %s %q conflicts with %q, keeping first",
		e.NodeID, e.Field, e.Dropped, e.Kept)
}

type edgeKey struct {
	source    string
	target    string
	relType   string
	direction Direction
}

// Normalize parses a raw payload into a deduplicated graph. Duplicate
// node ids merge with last-write-wins attributes; conflicting kind or
// display name keeps the first value and logs a schema warning. Edges
// referencing unknown node ids are dropped. The root is the unique node
// matching the query, falling back to the first node of the payload
// when the match is missing or ambiguous.
func Normalize(raw *graph.RawPayload, q Query) *Graph {
	g := &Graph{
		Nodes:   make(map[string]Node, len(raw.Data.Nodes)),
		Subject: q.Subject(),
	}

	// First-seen order, needed for the documented root fallback.
	order := make([]string, 0, len(raw.Data.Nodes))

	for _, rn := range raw.Data.Nodes {
		n := Node{
			ID:          rn.ID,
			Kind:        rn.PrimaryLabel,
			DisplayName: rn.Name,
			Attrs:       stringifyProperties(rn.Properties),
		}
		if n.DisplayName == "" {
			n.DisplayName = rn.Identity
		}
		if rn.Identity != "" {
			n.Attrs["identity"] = rn.Identity
		}

		existing, ok := g.Nodes[rn.ID]
		if !ok {
			g.Nodes[rn.ID] = n
			order = append(order, rn.ID)
			continue
		}

		if existing.Kind != n.Kind {
			log.Printf("WARNING: %v", &SchemaError{NodeID: rn.ID, Field: "kind", Kept: existing.Kind, Dropped: n.Kind})
		}
		if existing.DisplayName != n.DisplayName {
			log.Printf("WARNING: %v", &SchemaError{NodeID: rn.ID, Field: "displayName", Kept: existing.DisplayName, Dropped: n.DisplayName})
		}
		for k, v := range n.Attrs {
			existing.Attrs[k] = v
		}
		g.Nodes[rn.ID] = existing
	}

	g.RootID = resolveRoot(g.Nodes, order, q)

	seen := make(map[edgeKey]bool, len(raw.Data.Relationships))
	for _, rr := range raw.Data.Relationships {
		if _, ok := g.Nodes[rr.StartID]; !ok {
			log.Printf("WARNING: dropping %s edge with unknown source node %s", rr.Type, rr.StartID)
			continue
		}
		if _, ok := g.Nodes[rr.EndID]; !ok {
			log.Printf("WARNING: dropping %s edge with unknown target node %s", rr.Type, rr.EndID)
			continue
		}

		dir := Outgoing
		if g.RootID != "" && rr.EndID == g.RootID && rr.StartID != g.RootID {
			dir = Incoming
		}

		key := edgeKey{source: rr.StartID, target: rr.EndID, relType: rr.Type, direction: dir}
		if seen[key] {
			continue
		}
		seen[key] = true
		g.Edges = append(g.Edges, Edge{
			SourceID:  rr.StartID,
			TargetID:  rr.EndID,
			Type:      rr.Type,
			Direction: dir,
		})
	}

	return g
}

// resolveRoot finds the query's root entity among the nodes. With no
// unique match it falls back to the first node of the payload — a
// documented degraded mode, not an error. Empty payloads have no root.
func resolveRoot(nodes map[string]Node, order []string, q Query) string {
	var match string
	matches := 0
	for _, id := range order {
		if q.matchesRoot(nodes[id]) {
			match = id
			matches++
		}
	}
	if matches == 1 {
		return match
	}
	if len(order) > 0 {
		return order[0]
	}
	return ""
}

// stringifyProperties flattens a raw property bag into the string
// attribute map the report model uses. Non-scalar values keep their
// default Go formatting; nil entries are skipped.
func stringifyProperties(props map[string]any) map[string]string {
	attrs := make(map[string]string, len(props))
	for k, v := range props {
		if v == nil {
			continue
		}
		switch t := v.(type) {
		case string:
			attrs[k] = t
		case float64:
			// JSON numbers decode as float64; render integers plainly.
			if t == float64(int64(t)) {
				attrs[k] = fmt.Sprintf("%d", int64(t))
			} else {
				attrs[k] = fmt.Sprintf("%g", t)
			}
		case bool:
			attrs[k] = fmt.Sprintf("%t", t)
		default:
			attrs[k] = fmt.Sprintf("%v", t)
		}
	}
	return attrs
}
