package graph

import "strings"

// RawPayload is a dependency impact response from the graph server,
// returned by the Fetcher exactly as received.
type RawPayload struct {
	Data PayloadData `json:"data"`
}

// PayloadData holds the node and relationship lists of an impact graph.
type PayloadData struct {
	Nodes         []RawNode         `json:"nodes"`
	Relationships []RawRelationship `json:"relationships"`
}

// RawNode is a graph entity in the server's wire schema. Identity is
// the fully qualified name (pipe-delimited path); Name is the short
// display name; PrimaryLabel is the entity kind, e.g. "JavaMethodEntity"
// or "Table".
type RawNode struct {
	ID           string         `json:"id"`
	Identity     string         `json:"identity"`
	Name         string         `json:"name"`
	PrimaryLabel string         `json:"primaryLabel"`
	Properties   map[string]any `json:"properties"`
}

// RawRelationship is a directed edge between two nodes of the same
// payload, referenced by node id.
type RawRelationship struct {
	StartID string `json:"startId"`
	EndID   string `json:"endId"`
	Type    string `json:"type"`
}

// SearchNode is one candidate returned by the entity search endpoints.
type SearchNode struct {
	ID         string         `json:"id"`
	Identity   string         `json:"identity"`
	Name       string         `json:"name"`
	Schema     string         `json:"schema,omitempty"`
	Properties map[string]any `json:"properties,omitempty"`
}

// ImpactID returns the node id accepted by the impact endpoint. Search
// results carry it under properties.id; the top-level id is a fallback
// for older server versions.
func (n SearchNode) ImpactID() string {
	if v, ok := n.Properties["id"].(string); ok && v != "" {
		return v
	}
	return n.ID
}

// PickMethodNode selects the search candidate matching the given class
// name, by looking for the class as a path segment of the candidate's
// qualified identity. An empty class selects the first candidate.
func PickMethodNode(nodes []SearchNode, class string) (SearchNode, bool) {
	if class == "" {
		if len(nodes) == 0 {
			return SearchNode{}, false
		}
		return nodes[0], true
	}
	for _, n := range nodes {
		if strings.Contains(n.Identity, "|"+class+"|") ||
			strings.Contains(n.Identity, "|"+class+".class|") {
			return n, true
		}
	}
	return SearchNode{}, false
}
