// Package tree projects relationship progress onto a fixed-shape growth tree.
//
// Every relationship tree has the same nodes: one ring per level, one branch
// per evolution stage past seed, and a blossom at each milestone level. Only
// the unlocked flags differ, so completion is comparable across relationships.
package tree

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/service/leveling"
	"github.com/dytto-app/dytto/internal/service/patterns"
	"github.com/dytto-app/dytto/internal/storage"
)

// BlossomLevels are the milestone levels that grow a blossom.
var BlossomLevels = []int{3, 5, 7, 10}

var patternPhrases = map[model.PatternKind]string{
	model.PatternFrequentContact:      "frequent contact",
	model.PatternDecliningFrequency:   "declining contact",
	model.PatternReconnection:         "a reconnection",
	model.PatternSentimentImproving:   "improving sentiment",
	model.PatternSentimentDeclining:   "declining sentiment",
	model.PatternConsistentlyPositive: "consistently positive interactions",
	model.PatternRecurringTopic:       "a recurring topic",
}

// Service builds growth trees.
type Service struct {
	repo         *storage.Repository
	levels       *leveling.Table
	analyzer     *patterns.Analyzer
	achievements map[int]string
}

// New creates a tree Service.
func New(repo *storage.Repository, levels *leveling.Table, analyzer *patterns.Analyzer, achievements map[int]string) *Service {
	return &Service{repo: repo, levels: levels, analyzer: analyzer, achievements: achievements}
}

// Nodes returns the tree nodes for progress in display order.
func (s *Service) Nodes(progress model.RelationshipProgress) []model.TreeNode {
	var nodes []model.TreeNode
	for lvl := 1; lvl <= s.levels.MaxLevel(); lvl++ {
		nodes = append(nodes, model.TreeNode{
			ID:          fmt.Sprintf("ring:%d", lvl),
			Kind:        model.NodeRing,
			Label:       s.levels.Title(lvl),
			Requirement: fmt.Sprintf("Reach level %d (%d XP)", lvl, s.levels.Threshold(lvl)),
			Unlocked:    progress.Level >= lvl,
		})
	}

	for _, r := range s.analyzer.Evolution() {
		nodes = append(nodes, model.TreeNode{
			ID:          "branch:" + r.To,
			Kind:        model.NodeBranch,
			Label:       stageLabel(r.ToStage()),
			Requirement: describeRule(r),
			Unlocked:    progress.Stage >= r.ToStage(),
		})
	}

	for _, lvl := range BlossomLevels {
		if lvl > s.levels.MaxLevel() {
			continue
		}
		label := s.achievements[lvl]
		if label == "" {
			label = s.levels.Title(lvl)
		}
		nodes = append(nodes, model.TreeNode{
			ID:          fmt.Sprintf("blossom:%d", lvl),
			Kind:        model.NodeBlossom,
			Label:       label,
			Requirement: fmt.Sprintf("Reach level %d", lvl),
			Unlocked:    progress.Level >= lvl,
		})
	}
	return nodes
}

// RelationshipTree projects one relationship's progress.
func (s *Service) RelationshipTree(rel model.Relationship, progress model.RelationshipProgress) model.RelationshipTree {
	level := s.levels.CalculateLevel(progress.XP)
	progress.Level = level

	t := model.RelationshipTree{
		RelationshipID: rel.ID,
		Name:           rel.Name,
		Level:          level,
		Title:          s.levels.Title(level),
		Stage:          progress.Stage,
		XP:             progress.XP,
		XPForNext:      s.levels.XPForNextLevel(level),
		Progress:       s.levels.ProgressInLevel(progress.XP, level),
		Nodes:          s.Nodes(progress),
		Achievements:   s.unlockedAchievements(level),
	}
	t.Completion = completion(t.Unlocked(), len(t.Nodes))
	return t
}

func (s *Service) unlockedAchievements(level int) []string {
	out := []string{}
	for lvl := 2; lvl <= level; lvl++ {
		if a, ok := s.achievements[lvl]; ok {
			out = append(out, a)
		}
	}
	return out
}

// CompletionStatus returns the fraction of tree nodes unlocked, in [0, 1].
func (s *Service) CompletionStatus(progress model.RelationshipProgress) float64 {
	progress.Level = s.levels.CalculateLevel(progress.XP)
	nodes := s.Nodes(progress)
	n := 0
	for _, node := range nodes {
		if node.Unlocked {
			n++
		}
	}
	return completion(n, len(nodes))
}

func completion(unlocked, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(unlocked)/float64(total)*1000) / 1000
}

// SuggestEvolution describes the next unlock for progress. It does not
// change anything.
func (s *Service) SuggestEvolution(progress model.RelationshipProgress) string {
	level := s.levels.CalculateLevel(progress.XP)

	if next := s.analyzer.NextEvolution(progress); next != nil {
		if level < next.MinLevel {
			need := s.levels.Threshold(next.MinLevel) - progress.XP
			return fmt.Sprintf("Earn %d more XP to reach level %d, then %s.",
				need, next.MinLevel, growPhrase(*next))
		}
		if len(next.AllOf) == 0 && len(next.AnyOf) == 0 {
			return fmt.Sprintf("Log your next interaction to grow into %s.", article(stageNoun(next.ToStage())))
		}
		p := growPhrase(*next)
		return strings.ToUpper(p[:1]) + p[1:] + "."
	}

	if level < s.levels.MaxLevel() {
		need := s.levels.XPForNextLevel(level) - progress.XP
		return fmt.Sprintf("Earn %d more XP to reach level %d (%s).", need, level+1, s.levels.Title(level+1))
	}
	return "Your tree is fully grown."
}

// growPhrase reads like "show frequent contact or a recurring topic to grow
// into a sapling".
func growPhrase(r config.EvolutionRule) string {
	target := article(stageNoun(r.ToStage()))
	conds := conditions(r)
	if len(conds) == 0 {
		return "keep interacting to grow into " + target
	}
	return "show " + strings.Join(conds, " and ") + " to grow into " + target
}

func article(noun string) string {
	if noun != "" && strings.ContainsRune("aeiou", rune(noun[0])) {
		return "an " + noun
	}
	return "a " + noun
}

func conditions(r config.EvolutionRule) []string {
	var out []string
	for _, k := range r.AllOf {
		out = append(out, patternPhrases[k])
	}
	if len(r.AnyOf) > 0 {
		either := make([]string, len(r.AnyOf))
		for i, k := range r.AnyOf {
			either[i] = patternPhrases[k]
		}
		out = append(out, strings.Join(either, " or "))
	}
	return out
}

func describeRule(r config.EvolutionRule) string {
	req := fmt.Sprintf("Reach level %d", max(r.MinLevel, 1))
	if conds := conditions(r); len(conds) > 0 {
		req += " with " + strings.Join(conds, " and ")
	}
	return req
}

func stageNoun(s model.EvolutionStage) string {
	return strings.ReplaceAll(s.String(), "_", " ")
}

func stageLabel(s model.EvolutionStage) string {
	words := strings.Fields(stageNoun(s))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

// GlobalTree combines per-relationship trees. Relationships without stored
// progress count as new. An empty set yields an empty tree, not an error.
func (s *Service) GlobalTree(rels []model.Relationship, progress map[uuid.UUID]model.RelationshipProgress) model.GlobalTree {
	g := model.GlobalTree{
		Relationships: len(rels),
		StageCounts:   make(map[string]int),
		Trees:         []model.RelationshipTree{},
	}
	for st := model.StageSeed; st <= model.MaxStage; st++ {
		g.StageCounts[st.String()] = 0
	}

	var levels int
	for _, rel := range rels {
		p, ok := progress[rel.ID]
		if !ok {
			p = model.NewProgress(rel.ID)
		}
		t := s.RelationshipTree(rel, p)

		g.TotalXP += t.XP
		levels += t.Level
		g.HighestLevel = max(g.HighestLevel, t.Level)
		g.StageCounts[t.Stage.String()]++
		g.UnlockedNodes += t.Unlocked()
		g.TotalNodes += len(t.Nodes)
		g.Trees = append(g.Trees, t)
	}
	if len(rels) > 0 {
		g.AverageLevel = math.Round(float64(levels)/float64(len(rels))*10) / 10
	}
	g.Completion = completion(g.UnlockedNodes, g.TotalNodes)

	sort.SliceStable(g.Trees, func(i, j int) bool { return g.Trees[i].XP > g.Trees[j].XP })
	return g
}

// Load builds the tree of one stored relationship.
func (s *Service) Load(ctx context.Context, id uuid.UUID) (model.RelationshipTree, error) {
	rel, err := s.repo.GetRelationship(ctx, id)
	if err != nil {
		return model.RelationshipTree{}, fmt.Errorf("tree: load relationship: %w", err)
	}
	p, err := s.repo.GetProgress(ctx, id)
	if err != nil {
		return model.RelationshipTree{}, fmt.Errorf("tree: load progress: %w", err)
	}
	return s.RelationshipTree(rel, p), nil
}

// LoadGlobal builds the global tree from every stored relationship.
func (s *Service) LoadGlobal(ctx context.Context) (model.GlobalTree, error) {
	rels, err := s.repo.ListRelationships(ctx)
	if err != nil {
		return model.GlobalTree{}, fmt.Errorf("tree: list relationships: %w", err)
	}
	all, err := s.repo.ListProgress(ctx)
	if err != nil {
		return model.GlobalTree{}, fmt.Errorf("tree: list progress: %w", err)
	}
	byID := make(map[uuid.UUID]model.RelationshipProgress, len(all))
	for _, p := range all {
		byID[p.RelationshipID] = p
	}
	return s.GlobalTree(rels, byID), nil
}
