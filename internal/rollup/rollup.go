// Package rollup derives parent-level aggregate views from child goals.
// Read-only: the parent's stored progress is never touched.
package rollup

import (
	"sort"

	"goalline/internal/domain"
)

type Aggregate struct {
	ParentGoalID        string  `json:"parent_goal_id"`
	ChildCount          int     `json:"child_count"`
	TotalTarget         float64 `json:"total_target"`
	TotalProgress       float64 `json:"total_progress"`
	AggregatePercentage float64 `json:"aggregate_percentage"`
}

// Compute sums direct children. Children with no target contribute zero to
// both sums.
func Compute(parentID string, children []domain.Goal) Aggregate {
	agg := Aggregate{ParentGoalID: parentID, ChildCount: len(children)}
	for _, c := range children {
		if c.TargetValue == nil {
			continue
		}
		agg.TotalTarget += *c.TargetValue
		agg.TotalProgress += c.CurrentProgress
	}
	if agg.TotalTarget > 0 {
		agg.AggregatePercentage = agg.TotalProgress / agg.TotalTarget * 100
		if agg.AggregatePercentage > 100 {
			agg.AggregatePercentage = 100
		}
	}
	return agg
}

type Node struct {
	Goal               domain.Goal `json:"goal"`
	ContributionWeight float64     `json:"contribution_weight,omitempty"`
	Children           []*Node     `json:"children,omitempty"`
}

var ownerTypeOrder = map[string]int{
	"company":    0,
	"team":       1,
	"individual": 2,
}

func rank(ownerType string) int {
	if r, ok := ownerTypeOrder[ownerType]; ok {
		return r
	}
	return 3
}

// BuildTree assembles the full hierarchy. Roots and every sibling group
// are ordered company, team, individual, then unspecified; ties fall back
// to name then id.
func BuildTree(goals []domain.Goal, links []domain.HierarchyLink) []*Node {
	nodes := make(map[string]*Node, len(goals))
	for _, g := range goals {
		nodes[g.ID] = &Node{Goal: g}
	}
	hasParent := make(map[string]bool, len(links))
	for _, l := range links {
		parent, ok := nodes[l.ParentGoalID]
		if !ok {
			continue
		}
		child, ok := nodes[l.ChildGoalID]
		if !ok {
			continue
		}
		child.ContributionWeight = l.ContributionWeight
		parent.Children = append(parent.Children, child)
		hasParent[l.ChildGoalID] = true
	}
	var roots []*Node
	for _, g := range goals {
		if !hasParent[g.ID] {
			roots = append(roots, nodes[g.ID])
		}
	}
	sortNodes(roots)
	for _, n := range nodes {
		sortNodes(n.Children)
	}
	return roots
}

// Subtree returns the tree rooted at the given goal, or nil when the goal
// is not present.
func Subtree(goalID string, goals []domain.Goal, links []domain.HierarchyLink) *Node {
	for _, root := range BuildTree(goals, links) {
		if n := find(root, goalID); n != nil {
			return n
		}
	}
	return nil
}

func find(n *Node, id string) *Node {
	if n.Goal.ID == id {
		return n
	}
	for _, c := range n.Children {
		if hit := find(c, id); hit != nil {
			return hit
		}
	}
	return nil
}

func sortNodes(ns []*Node) {
	sort.SliceStable(ns, func(i, j int) bool {
		ri, rj := rank(ns[i].Goal.OwnerType), rank(ns[j].Goal.OwnerType)
		if ri != rj {
			return ri < rj
		}
		if ns[i].Goal.Name != ns[j].Goal.Name {
			return ns[i].Goal.Name < ns[j].Goal.Name
		}
		return ns[i].Goal.ID < ns[j].Goal.ID
	})
}
