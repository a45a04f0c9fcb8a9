package model

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewEdgeID creates a new prefixed edge ID
func NewEdgeID() string {
	return "EDG-" + uuid.New().String()
}

// Edge is a directed precedence between two nodes of one workflow
type Edge struct {
	ID         string
	WorkflowID string
	FromNodeID string
	ToNodeID   string
	CreatedAt  time.Time
}

// NewEdge creates a new edge; self-loops are rejected
func NewEdge(workflowID, fromNodeID, toNodeID string) (*Edge, error) {
	if workflowID == "" {
		return nil, errors.New("workflow ID is required")
	}
	if fromNodeID == "" || toNodeID == "" {
		return nil, errors.New("edge endpoints are required")
	}
	if fromNodeID == toNodeID {
		return nil, errors.New("edge cannot be a self-loop")
	}

	return &Edge{
		ID:         NewEdgeID(),
		WorkflowID: workflowID,
		FromNodeID: fromNodeID,
		ToNodeID:   toNodeID,
		CreatedAt:  time.Now(),
	}, nil
}

// ValidateGraph checks that edges reference known nodes, contain no
// self-loops or duplicates, and form a DAG.
func ValidateGraph(nodes []*Node, edges []*Edge) error {
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n.ID] = true
	}

	seen := make(map[[2]string]bool, len(edges))
	for _, e := range edges {
		if !known[e.FromNodeID] {
			return fmt.Errorf("edge %s references unknown node %s", e.ID, e.FromNodeID)
		}
		if !known[e.ToNodeID] {
			return fmt.Errorf("edge %s references unknown node %s", e.ID, e.ToNodeID)
		}
		if e.FromNodeID == e.ToNodeID {
			return fmt.Errorf("edge %s is a self-loop on node %s", e.ID, e.FromNodeID)
		}

		pair := [2]string{e.FromNodeID, e.ToNodeID}
		if seen[pair] {
			return fmt.Errorf("duplicate edge from %s to %s", e.FromNodeID, e.ToNodeID)
		}
		seen[pair] = true
	}

	if hasCycle(nodes, edges) {
		return errors.New("workflow graph contains a cycle")
	}

	return nil
}

// InDegrees returns the incoming-edge count per node ID. Nodes without
// incoming edges map to zero.
func InDegrees(nodes []*Node, edges []*Edge) map[string]int {
	degrees := make(map[string]int, len(nodes))
	for _, n := range nodes {
		degrees[n.ID] = 0
	}
	for _, e := range edges {
		degrees[e.ToNodeID]++
	}
	return degrees
}

// hasCycle runs Kahn's algorithm; any node left unprocessed sits on a cycle.
func hasCycle(nodes []*Node, edges []*Edge) bool {
	degrees := InDegrees(nodes, edges)
	successors := make(map[string][]string, len(nodes))
	for _, e := range edges {
		successors[e.FromNodeID] = append(successors[e.FromNodeID], e.ToNodeID)
	}

	queue := make([]string, 0, len(nodes))
	for id, d := range degrees {
		if d == 0 {
			queue = append(queue, id)
		}
	}

	processed := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		processed++

		for _, succ := range successors[id] {
			degrees[succ]--
			if degrees[succ] == 0 {
				queue = append(queue, succ)
			}
		}
	}

	return processed != len(nodes)
}
