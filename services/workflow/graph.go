package workflow

import "fmt"

// graph is the indexed, validated form of a workflow used during a run.
type graph struct {
	nodes    map[string]*Node
	order    []string
	outgoing map[string][]Connection
	incoming map[string]int
}

// buildGraph indexes the workflow and rejects empty or duplicate node ids and dangling connections.
func buildGraph(wf *Workflow) (*graph, error) {
	g := &graph{
		nodes:    make(map[string]*Node, len(wf.Nodes)),
		order:    make([]string, 0, len(wf.Nodes)),
		outgoing: make(map[string][]Connection),
		incoming: make(map[string]int),
	}

	for i := range wf.Nodes {
		n := &wf.Nodes[i]
		if n.ID == "" {
			return nil, &GraphError{Reason: fmt.Sprintf("node at index %d has no id", i)}
		}
		if _, dup := g.nodes[n.ID]; dup {
			return nil, &GraphError{Reason: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		g.nodes[n.ID] = n
		g.order = append(g.order, n.ID)
	}

	for _, c := range wf.Connections {
		if _, ok := g.nodes[c.Source]; !ok {
			return nil, &GraphError{Reason: fmt.Sprintf("connection %q references missing source node %q", c.ID, c.Source)}
		}
		if _, ok := g.nodes[c.Target]; !ok {
			return nil, &GraphError{Reason: fmt.Sprintf("connection %q references missing target node %q", c.ID, c.Target)}
		}
		g.outgoing[c.Source] = append(g.outgoing[c.Source], c)
		g.incoming[c.Target]++
	}

	return g, nil
}

// startNodes returns the nodes no connection targets, in declaration order.
func (g *graph) startNodes() []*Node {
	var starts []*Node
	for _, id := range g.order {
		if g.incoming[id] == 0 {
			starts = append(starts, g.nodes[id])
		}
	}
	return starts
}

// next returns the targets to visit after a node completed with output.
// Connections leaving a "true" or "false" output are followed only when the
// node's boolean result matches; every other connection is always followed.
func (g *graph) next(nodeID string, output map[string]any) []string {
	var targets []string
	for _, c := range g.outgoing[nodeID] {
		if !branchTaken(c.SourceOutput, output) {
			continue
		}
		targets = append(targets, c.Target)
	}
	return targets
}

func branchTaken(port string, output map[string]any) bool {
	if port != "true" && port != "false" {
		return true
	}
	result, ok := output["result"].(bool)
	if !ok {
		return true
	}
	return result == (port == "true")
}

// ValidateGraph checks the workflow's shape without running it.
func ValidateGraph(wf *Workflow) error {
	g, err := buildGraph(wf)
	if err != nil {
		return err
	}
	if len(g.startNodes()) == 0 {
		return ErrNoStartNode
	}
	return nil
}
