/*
journey.go - Prerequisite graph gating challenge availability

PURPOSE:
  A journey is a static DAG of nodes, each bound to a challenge
  definition. Node status is re-derived from instance status after every
  completion event and on load.

DERIVATION RULES (single pass, topological order):
  completed  iff the bound instance is COMPLETED
  active     iff the bound instance is ACCEPTED/ACTIVE (never relocked)
  available  iff every prerequisite is completed (no prerequisites ⇒ available)
  locked     otherwise

VALIDATION (fail fast at load):
  - duplicate node ids
  - references to unknown nodes
  - cycles (reported with the nodes that could not be ordered)

EDGES:
  Definitions may express an edge from either end (B lists A as a
  prerequisite, or A lists B in Unlocks). Both are folded into one edge
  set so Prerequisites and Unlocks are always mirror images.

SEE ALSO:
  - detector.go: Completion events trigger recomputation
  - catalog/journey.go: YAML journey definitions
*/
package progression

import (
	"fmt"
	"sort"
)

type NodeStatus string

const (
	NodeLocked    NodeStatus = "locked"
	NodeAvailable NodeStatus = "available"
	NodeActive    NodeStatus = "active"
	NodeCompleted NodeStatus = "completed"
)

func ParseNodeStatus(s string) (NodeStatus, error) {
	switch st := NodeStatus(s); st {
	case NodeLocked, NodeAvailable, NodeActive, NodeCompleted:
		return st, nil
	}
	return "", fmt.Errorf("unknown node status %q", s)
}

// Position is presentation-only layout data.
type Position struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// NodeDefinition is the static description of one journey node.
type NodeDefinition struct {
	ID            NodeID       `json:"id" yaml:"id"`
	ChallengeID   DefinitionID `json:"challenge_id" yaml:"challenge_id"`
	Prerequisites []NodeID     `json:"prerequisites,omitempty" yaml:"prerequisites"`
	Unlocks       []NodeID     `json:"unlocks,omitempty" yaml:"unlocks"`
	Position      Position     `json:"position" yaml:"position"`
}

type JourneyNode struct {
	ID            NodeID       `json:"id"`
	ChallengeID   DefinitionID `json:"challenge_id"`
	Status        NodeStatus   `json:"status"`
	Prerequisites []NodeID     `json:"prerequisites"`
	Unlocks       []NodeID     `json:"unlocks"`
	Position      Position     `json:"position"`
}

// =============================================================================
// JOURNEY
// =============================================================================

type Journey struct {
	order  []NodeID // topological
	nodes  map[NodeID]*JourneyNode
	byDef  map[DefinitionID]NodeID
	status map[NodeID]NodeStatus
}

// NewJourney validates defs and builds the graph. All nodes start locked
// until RecomputeStatuses runs.
func NewJourney(defs []NodeDefinition) (*Journey, error) {
	j := &Journey{
		nodes:  make(map[NodeID]*JourneyNode, len(defs)),
		byDef:  make(map[DefinitionID]NodeID, len(defs)),
		status: make(map[NodeID]NodeStatus, len(defs)),
	}

	for _, d := range defs {
		if d.ID == "" {
			return nil, &InvalidGraphError{Reason: "node without id"}
		}
		if _, dup := j.nodes[d.ID]; dup {
			return nil, &InvalidGraphError{Reason: "duplicate node", Nodes: []NodeID{d.ID}}
		}
		if d.ChallengeID != "" {
			if other, dup := j.byDef[d.ChallengeID]; dup {
				return nil, &InvalidGraphError{
					Reason: fmt.Sprintf("challenge %s bound twice", d.ChallengeID),
					Nodes:  []NodeID{other, d.ID},
				}
			}
			j.byDef[d.ChallengeID] = d.ID
		}
		j.nodes[d.ID] = &JourneyNode{
			ID:          d.ID,
			ChallengeID: d.ChallengeID,
			Status:      NodeLocked,
			Position:    d.Position,
		}
	}

	// Fold both edge directions into prereq -> dependents.
	edges := make(map[NodeID]map[NodeID]bool, len(defs))
	addEdge := func(from, to NodeID) error {
		if _, ok := j.nodes[from]; !ok {
			return &InvalidGraphError{Reason: "unknown node", Nodes: []NodeID{from}}
		}
		if _, ok := j.nodes[to]; !ok {
			return &InvalidGraphError{Reason: "unknown node", Nodes: []NodeID{to}}
		}
		if from == to {
			return &InvalidGraphError{Reason: "self prerequisite", Nodes: []NodeID{from}, Cycle: true}
		}
		if edges[from] == nil {
			edges[from] = make(map[NodeID]bool)
		}
		edges[from][to] = true
		return nil
	}
	for _, d := range defs {
		for _, p := range d.Prerequisites {
			if err := addEdge(p, d.ID); err != nil {
				return nil, err
			}
		}
		for _, u := range d.Unlocks {
			if err := addEdge(d.ID, u); err != nil {
				return nil, err
			}
		}
	}
	for from, tos := range edges {
		for to := range tos {
			j.nodes[from].Unlocks = append(j.nodes[from].Unlocks, to)
			j.nodes[to].Prerequisites = append(j.nodes[to].Prerequisites, from)
		}
	}
	for _, n := range j.nodes {
		sortNodeIDs(n.Unlocks)
		sortNodeIDs(n.Prerequisites)
	}

	order, err := topoSort(j.nodes)
	if err != nil {
		return nil, err
	}
	j.order = order
	for _, id := range order {
		j.status[id] = NodeLocked
	}
	return j, nil
}

// topoSort is Kahn's algorithm with a sorted frontier so the order is
// deterministic. Nodes left over after the frontier drains form cycles.
func topoSort(nodes map[NodeID]*JourneyNode) ([]NodeID, error) {
	indegree := make(map[NodeID]int, len(nodes))
	for id, n := range nodes {
		indegree[id] = len(n.Prerequisites)
	}

	var frontier []NodeID
	for id, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, id)
		}
	}
	sortNodeIDs(frontier)

	order := make([]NodeID, 0, len(nodes))
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		order = append(order, id)

		var released []NodeID
		for _, next := range nodes[id].Unlocks {
			indegree[next]--
			if indegree[next] == 0 {
				released = append(released, next)
			}
		}
		sortNodeIDs(released)
		frontier = append(frontier, released...)
		sortNodeIDs(frontier)
	}

	if len(order) != len(nodes) {
		var stuck []NodeID
		for id, deg := range indegree {
			if deg > 0 {
				stuck = append(stuck, id)
			}
		}
		sortNodeIDs(stuck)
		return nil, &InvalidGraphError{Reason: "prerequisite cycle", Nodes: stuck, Cycle: true}
	}
	return order, nil
}

// RecomputeStatuses derives every node status from the instance bound to
// its challenge, keyed by definition id. It reports whether any status
// changed since the previous run. Running it twice on the same input
// yields the same statuses and changed=false the second time.
func (j *Journey) RecomputeStatuses(instances map[DefinitionID]ChallengeInstance) ([]JourneyNode, bool) {
	changed := false
	for _, id := range j.order {
		n := j.nodes[id]
		next := j.derive(n, instances)
		if j.status[id] != next {
			changed = true
		}
		j.status[id] = next
		n.Status = next
	}
	return j.Nodes(), changed
}

func (j *Journey) derive(n *JourneyNode, instances map[DefinitionID]ChallengeInstance) NodeStatus {
	inst, bound := instances[n.ChallengeID]
	if bound && inst.Status == StatusCompleted {
		return NodeCompleted
	}
	if bound && inst.Status.InProgress() {
		return NodeActive
	}
	for _, p := range n.Prerequisites {
		// Prerequisites precede n in topological order, so j.status[p]
		// is already final for this pass.
		if j.status[p] != NodeCompleted {
			return NodeLocked
		}
	}
	return NodeAvailable
}

// Nodes returns copies of all nodes in topological order.
func (j *Journey) Nodes() []JourneyNode {
	out := make([]JourneyNode, 0, len(j.order))
	for _, id := range j.order {
		n := *j.nodes[id]
		n.Prerequisites = append([]NodeID{}, n.Prerequisites...)
		n.Unlocks = append([]NodeID{}, n.Unlocks...)
		out = append(out, n)
	}
	return out
}

func (j *Journey) Status(id NodeID) (NodeStatus, bool) {
	st, ok := j.status[id]
	return st, ok
}

// Gate reports whether def may be accepted. Definitions not bound to any
// node are always allowed.
func (j *Journey) Gate(def DefinitionID) error {
	id, bound := j.byDef[def]
	if !bound {
		return nil
	}
	switch j.status[id] {
	case NodeAvailable, NodeActive:
		return nil
	}
	return fmt.Errorf("accept %s: node %s is %s: %w", def, id, j.status[id], ErrNodeLocked)
}

func sortNodeIDs(ids []NodeID) {
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
}
