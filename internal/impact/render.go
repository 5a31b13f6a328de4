package impact

import (
	"fmt"
	"sort"
	"strings"
)

// Render emits the markdown impact report for a normalized graph. It
// is a pure function: the same graph always renders to the same text.
//
// Ordering rules:
//  1. The root entity heading comes first.
//  2. Relationship groups sort lexicographically by relationship type.
//  3. Within a type, outgoing ("impacts") renders before incoming
//     ("impacted by").
//  4. Entries sort by display name, ties broken by node id.
func Render(g *Graph) string {
	var sb strings.Builder

	root, haveRoot := g.Nodes[g.RootID]
	if haveRoot {
		fmt.Fprintf(&sb, "# Impact Analysis: `%s` (%s)\n\n", root.DisplayName, root.Kind)
	} else {
		fmt.Fprintf(&sb, "# Impact Analysis: `%s`\n\n", g.Subject)
		sb.WriteString("The requested entity was not present in the impact graph.\n\n")
	}

	if len(g.Edges) == 0 {
		fmt.Fprintf(&sb, "No impacts were found for `%s`.\n", subjectName(g, root, haveRoot))
		return sb.String()
	}

	fmt.Fprintf(&sb, "%d related entities, %d impact relationships.\n",
		len(g.Nodes), len(g.Edges))

	for _, grp := range groupEdges(g) {
		if len(grp.outgoing) > 0 {
			fmt.Fprintf(&sb, "\n## %s (impacts)\n\n", grp.relType)
			writeEntries(&sb, grp.outgoing)
		}
		if len(grp.incoming) > 0 {
			fmt.Fprintf(&sb, "\n## %s (impacted by)\n\n", grp.relType)
			writeEntries(&sb, grp.incoming)
		}
	}

	return sb.String()
}

func subjectName(g *Graph, root Node, haveRoot bool) string {
	if haveRoot {
		return root.DisplayName
	}
	return g.Subject
}

// edgeGroup collects the far-side nodes of one relationship type,
// split by direction.
type edgeGroup struct {
	relType  string
	outgoing []Node
	incoming []Node
}

// groupEdges buckets edges by relationship type and resolves each edge
// to the node on the far side of the root: the target for outgoing
// edges, the source for incoming ones. Duplicate far nodes within a
// bucket collapse to one entry.
func groupEdges(g *Graph) []edgeGroup {
	type bucket struct {
		outgoing map[string]Node
		incoming map[string]Node
	}
	buckets := make(map[string]*bucket)

	for _, e := range g.Edges {
		b := buckets[e.Type]
		if b == nil {
			b = &bucket{outgoing: map[string]Node{}, incoming: map[string]Node{}}
			buckets[e.Type] = b
		}
		if e.Direction == Incoming {
			b.incoming[e.SourceID] = g.Nodes[e.SourceID]
		} else {
			b.outgoing[e.TargetID] = g.Nodes[e.TargetID]
		}
	}

	types := make([]string, 0, len(buckets))
	for t := range buckets {
		types = append(types, t)
	}
	sort.Strings(types)

	groups := make([]edgeGroup, 0, len(types))
	for _, t := range types {
		b := buckets[t]
		groups = append(groups, edgeGroup{
			relType:  t,
			outgoing: sortNodes(b.outgoing),
			incoming: sortNodes(b.incoming),
		})
	}
	return groups
}

func sortNodes(set map[string]Node) []Node {
	nodes := make([]Node, 0, len(set))
	for _, n := range set {
		nodes = append(nodes, n)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].DisplayName != nodes[j].DisplayName {
			return nodes[i].DisplayName < nodes[j].DisplayName
		}
		return nodes[i].ID < nodes[j].ID
	})
	return nodes
}

func writeEntries(sb *strings.Builder, nodes []Node) {
	for _, n := range nodes {
		fmt.Fprintf(sb, "- `%s` (%s)\n", n.DisplayName, n.Kind)
	}
}
