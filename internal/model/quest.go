package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestKind distinguishes one-shot from windowed quests.
type QuestKind string

const (
	QuestMilestone QuestKind = "milestone"
	QuestRecurring QuestKind = "recurring"
)

// QuestStatus is the lifecycle state of a quest. Completed and expired are terminal.
type QuestStatus string

const (
	QuestPending   QuestStatus = "pending"
	QuestCompleted QuestStatus = "completed"
	QuestExpired   QuestStatus = "expired"
)

// TargetType names the condition a quest is waiting for.
type TargetType string

const (
	// TargetInteractionCount: cumulative interaction count reaches Value.
	TargetInteractionCount TargetType = "interaction_count"
	// TargetReachLevel: relationship level reaches Value.
	TargetReachLevel TargetType = "reach_level"
	// TargetInteractionsInWindow: Value new interactions since the quest was issued.
	TargetInteractionsInWindow TargetType = "interactions_in_window"
	// TargetPositiveInteractions: Value new positive interactions since the quest was issued.
	TargetPositiveInteractions TargetType = "positive_interactions"
)

// QuestTarget is the completion condition of a quest.
type QuestTarget struct {
	Type  TargetType `json:"type"`
	Value int        `json:"value"`
}

// Quest is a goal issued for one relationship.
type Quest struct {
	ID             uuid.UUID   `json:"id"`
	RelationshipID uuid.UUID   `json:"relationship_id"`
	Template       string      `json:"template"`
	Kind           QuestKind   `json:"kind"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	Difficulty     string      `json:"difficulty"`
	XPReward       int         `json:"xp_reward"`
	Target         QuestTarget `json:"target"`
	// Baseline is the counter value at issue time for window-relative targets.
	Baseline    int         `json:"baseline"`
	Status      QuestStatus `json:"status"`
	CreatedAt   time.Time   `json:"created_at"`
	ExpiresAt   *time.Time  `json:"expires_at,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
}

// Open reports whether the quest is still pending.
func (q Quest) Open() bool {
	return q.Status == QuestPending
}

// Satisfied reports whether progress meets the quest target.
func (q Quest) Satisfied(p RelationshipProgress) bool {
	switch q.Target.Type {
	case TargetInteractionCount:
		return p.InteractionCount >= q.Target.Value
	case TargetReachLevel:
		return p.Level >= q.Target.Value
	case TargetInteractionsInWindow:
		return p.InteractionCount-q.Baseline >= q.Target.Value
	case TargetPositiveInteractions:
		return p.PositiveCount-q.Baseline >= q.Target.Value
	}
	return false
}

// Remaining returns how far progress is from the target (0 when satisfied).
func (q Quest) Remaining(p RelationshipProgress) int {
	var have int
	switch q.Target.Type {
	case TargetInteractionCount:
		have = p.InteractionCount
	case TargetReachLevel:
		have = p.Level
	case TargetInteractionsInWindow:
		have = p.InteractionCount - q.Baseline
	case TargetPositiveInteractions:
		have = p.PositiveCount - q.Baseline
	}
	return max(q.Target.Value-have, 0)
}
