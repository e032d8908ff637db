package model

import (
	"time"

	"github.com/google/uuid"
)

// EvolutionStage is the ordinal maturity marker of a relationship.
// Stages only ever move forward.
type EvolutionStage int

const (
	StageSeed EvolutionStage = iota
	StageSprout
	StageSapling
	StageYoungTree
	StageMatureTree
	StageAncientTree
)

// MaxStage is the final evolution stage.
const MaxStage = StageAncientTree

var stageNames = [...]string{
	StageSeed:        "seed",
	StageSprout:      "sprout",
	StageSapling:     "sapling",
	StageYoungTree:   "young_tree",
	StageMatureTree:  "mature_tree",
	StageAncientTree: "ancient_tree",
}

func (s EvolutionStage) String() string {
	if s < StageSeed || s > MaxStage {
		return "unknown"
	}
	return stageNames[s]
}

// ParseStage resolves a stage name. ok is false for unknown names.
func ParseStage(name string) (EvolutionStage, bool) {
	for i, n := range stageNames {
		if n == name {
			return EvolutionStage(i), true
		}
	}
	return StageSeed, false
}

// MarshalText encodes the stage by name so stored documents stay readable.
func (s EvolutionStage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText accepts stage names; unknown names decode to seed.
func (s *EvolutionStage) UnmarshalText(b []byte) error {
	st, _ := ParseStage(string(b))
	*s = st
	return nil
}

// RelationshipProgress is the gamified state of one relationship.
//
// Level is always recomputed from XP by the leveling table; it is stored only
// as a convenience for readers.
type RelationshipProgress struct {
	RelationshipID    uuid.UUID      `json:"relationship_id"`
	XP                int            `json:"xp"`
	Level             int            `json:"level"`
	Stage             EvolutionStage `json:"stage"`
	InteractionCount  int            `json:"interaction_count"`
	PositiveCount     int            `json:"positive_count"`
	LastInteractionAt *time.Time     `json:"last_interaction_at,omitempty"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// NewProgress returns the zero-state progress for a relationship.
func NewProgress(relationshipID uuid.UUID) RelationshipProgress {
	return RelationshipProgress{
		RelationshipID: relationshipID,
		Level:          1,
		Stage:          StageSeed,
	}
}

// LevelEvent records a level transition caused by one interaction.
type LevelEvent struct {
	RelationshipID uuid.UUID `json:"relationship_id"`
	InteractionID  uuid.UUID `json:"interaction_id"`
	OldLevel       int       `json:"old_level"`
	NewLevel       int       `json:"new_level"`
	XPGained       int       `json:"xp_gained"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// ProcessResult is the outcome of scoring one interaction log.
type ProcessResult struct {
	Log       InteractionLog       `json:"log"`
	Progress  RelationshipProgress `json:"progress"`
	XPDelta   int                  `json:"xp_delta"`
	OldLevel  int                  `json:"old_level"`
	NewLevel  int                  `json:"new_level"`
	LeveledUp bool                 `json:"leveled_up"`
	// Skipped is set when the log already carried derived fields.
	Skipped bool `json:"skipped"`
}
