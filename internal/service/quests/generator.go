// Package quests issues and tracks relationship quests.
//
// Generator is the pure rule engine: given a relationship snapshot and its
// existing quests it decides what to issue, complete, expire, or renew.
// Service loads snapshots from storage and persists the decisions.
package quests

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/model"
)

// questNamespace seeds deterministic quest IDs.
var questNamespace = uuid.MustParse("5b0b7c1e-6d1f-4a5e-9f4e-0d7d2f6c9a31")

// Snapshot is everything the generator looks at for one relationship.
type Snapshot struct {
	Relationship model.Relationship
	Progress     model.RelationshipProgress
	Patterns     model.Patterns
	Quests       []model.Quest
}

// Generator evaluates the priority-ordered quest rules.
type Generator struct {
	rules []config.QuestRule
}

// NewGenerator creates a Generator over rules. Earlier rules take priority.
func NewGenerator(rules []config.QuestRule) *Generator {
	return &Generator{rules: rules}
}

// Rules returns the rule table.
func (g *Generator) Rules() []config.QuestRule { return g.rules }

// Next returns the quest of the first rule whose preconditions hold, whose
// target is not already met, and that has not been issued yet. Milestone
// templates are issued once ever; recurring templates once per open window.
func (g *Generator) Next(s Snapshot, now time.Time) (model.Quest, bool) {
	return g.first(s, now, func(config.QuestRule) bool { return true })
}

// MilestoneQuest is Next restricted to one-shot rules.
func (g *Generator) MilestoneQuest(s Snapshot, now time.Time) (model.Quest, bool) {
	return g.first(s, now, func(r config.QuestRule) bool { return r.Kind == model.QuestMilestone })
}

// RecurringQuest is Next restricted to windowed rules.
func (g *Generator) RecurringQuest(s Snapshot, now time.Time) (model.Quest, bool) {
	return g.first(s, now, func(r config.QuestRule) bool { return r.Kind == model.QuestRecurring })
}

func (g *Generator) first(s Snapshot, now time.Time, keep func(config.QuestRule) bool) (model.Quest, bool) {
	for _, r := range g.rules {
		if !keep(r) || !issuable(r, s.Quests) || !eligible(r, s) {
			continue
		}
		q := build(r, s, now)
		if q.Satisfied(s.Progress) {
			continue
		}
		return q, true
	}
	return model.Quest{}, false
}

// Refresh closes pending quests: an elapsed window expires the quest, a
// met target completes it. Closed recurring quests are renewed with a fresh
// window when their rule still applies. It returns every quest it changed or
// created; s.Quests is not modified.
func (g *Generator) Refresh(s Snapshot, now time.Time) []model.Quest {
	var changed []model.Quest
	quests := append([]model.Quest(nil), s.Quests...)

	for i, q := range quests {
		if !q.Open() {
			continue
		}
		switch {
		case q.ExpiresAt != nil && !now.Before(*q.ExpiresAt):
			q.Status = model.QuestExpired
		case q.Satisfied(s.Progress):
			q.Status = model.QuestCompleted
			done := now
			q.CompletedAt = &done
		default:
			continue
		}
		quests[i] = q
		changed = append(changed, q)
	}

	renewed := s
	renewed.Quests = quests
	for _, q := range changed {
		if q.Kind != model.QuestRecurring {
			continue
		}
		r, ok := g.rule(q.Template)
		if !ok || !issuable(r, renewed.Quests) || !eligible(r, renewed) {
			continue
		}
		fresh := build(r, renewed, now)
		renewed.Quests = append(renewed.Quests, fresh)
		changed = append(changed, fresh)
	}
	return changed
}

func (g *Generator) rule(template string) (config.QuestRule, bool) {
	for _, r := range g.rules {
		if r.Template == template {
			return r, true
		}
	}
	return config.QuestRule{}, false
}

func issuable(r config.QuestRule, existing []model.Quest) bool {
	for _, q := range existing {
		if q.Template != r.Template {
			continue
		}
		if r.Kind == model.QuestMilestone || q.Open() {
			return false
		}
	}
	return true
}

func eligible(r config.QuestRule, s Snapshot) bool {
	level := s.Progress.Level
	if level < r.MinLevel || (r.MaxLevel > 0 && level > r.MaxLevel) {
		return false
	}
	if len(r.Patterns) > 0 {
		matched := false
		for _, k := range r.Patterns {
			if s.Patterns.Has(k) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	if r.Category != "" && !s.Relationship.HasCategory(r.Category) {
		return false
	}
	if r.MissingTopic != "" && s.Patterns.HasTopic(r.MissingTopic) {
		return false
	}
	return true
}

// build instantiates r. The ID is derived from the relationship, template,
// and instance number, so two generators racing on the same snapshot write
// the same key instead of two quests.
func build(r config.QuestRule, s Snapshot, now time.Time) model.Quest {
	seq := 0
	for _, q := range s.Quests {
		if q.Template == r.Template {
			seq++
		}
	}
	relID := s.Relationship.ID
	if relID == uuid.Nil {
		relID = s.Progress.RelationshipID
	}

	q := model.Quest{
		ID:             uuid.NewSHA1(questNamespace, []byte(fmt.Sprintf("%s/%s/%d", relID, r.Template, seq))),
		RelationshipID: relID,
		Template:       r.Template,
		Kind:           r.Kind,
		Title:          r.Title,
		Description:    strings.ReplaceAll(r.Description, "{name}", s.Relationship.DisplayName()),
		Difficulty:     r.Difficulty,
		XPReward:       r.XPReward,
		Target:         r.Target,
		Status:         model.QuestPending,
		CreatedAt:      now.UTC(),
	}
	switch r.Target.Type {
	case model.TargetInteractionsInWindow:
		q.Baseline = s.Progress.InteractionCount
	case model.TargetPositiveInteractions:
		q.Baseline = s.Progress.PositiveCount
	}
	if r.Kind == model.QuestRecurring && r.Window > 0 {
		exp := q.CreatedAt.Add(r.Window)
		q.ExpiresAt = &exp
	}
	return q
}
