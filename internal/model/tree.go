package model

import "github.com/google/uuid"

// NodeKind is the structural role of a growth-tree node.
type NodeKind string

const (
	NodeRing    NodeKind = "ring"    // one per level
	NodeBranch  NodeKind = "branch"  // one per evolution stage past seed
	NodeBlossom NodeKind = "blossom" // milestone levels
)

// TreeNode is one unlockable element of a growth tree.
type TreeNode struct {
	ID          string   `json:"id"`
	Kind        NodeKind `json:"kind"`
	Label       string   `json:"label"`
	Requirement string   `json:"requirement"`
	Unlocked    bool     `json:"unlocked"`
}

// RelationshipTree is the growth-tree projection of one relationship.
type RelationshipTree struct {
	RelationshipID uuid.UUID      `json:"relationship_id"`
	Name           string         `json:"name,omitempty"`
	Level          int            `json:"level"`
	Title          string         `json:"title"`
	Stage          EvolutionStage `json:"stage"`
	XP             int            `json:"xp"`
	XPForNext      int            `json:"xp_for_next"`
	Progress       float64        `json:"progress"`
	Nodes          []TreeNode     `json:"nodes"`
	Achievements   []string       `json:"achievements"`
	Completion     float64        `json:"completion"`
}

// Unlocked counts unlocked nodes.
func (t RelationshipTree) Unlocked() int {
	n := 0
	for _, node := range t.Nodes {
		if node.Unlocked {
			n++
		}
	}
	return n
}

// GlobalTree aggregates every relationship tree into one view.
type GlobalTree struct {
	Relationships int                `json:"relationships"`
	TotalXP       int                `json:"total_xp"`
	AverageLevel  float64            `json:"average_level"`
	HighestLevel  int                `json:"highest_level"`
	StageCounts   map[string]int     `json:"stage_counts"`
	UnlockedNodes int                `json:"unlocked_nodes"`
	TotalNodes    int                `json:"total_nodes"`
	Completion    float64            `json:"completion"`
	Trees         []RelationshipTree `json:"trees"`
}
