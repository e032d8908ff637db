package tree

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dytto-app/dytto/internal/config"
	"github.com/dytto-app/dytto/internal/model"
	"github.com/dytto-app/dytto/internal/service/analysis"
	"github.com/dytto-app/dytto/internal/service/leveling"
	"github.com/dytto-app/dytto/internal/service/patterns"
	"github.com/dytto-app/dytto/internal/storage"
	"github.com/dytto-app/dytto/internal/testutil"
)

// Rings, branches and blossoms under the default rules.
const defaultNodes = 10 + 5 + 4

func newService(t *testing.T) (*Service, *storage.Repository) {
	t.Helper()
	rules := config.DefaultRules()
	levels, err := leveling.New(rules.LevelThresholds, rules.LevelTitles)
	require.NoError(t, err)
	client := analysis.NewClient(analysis.NewKeywordProvider(), analysis.Options{Timeout: time.Second}, testutil.TestLogger())
	repo := storage.NewRepository(storage.NewMemory())
	analyzer := patterns.NewAnalyzer(client, rules.Evolution, testutil.TestLogger())
	return New(repo, levels, analyzer, rules.Achievements), repo
}

func progressAt(xp int, stage model.EvolutionStage) model.RelationshipProgress {
	return model.RelationshipProgress{RelationshipID: uuid.New(), XP: xp, Stage: stage}
}

func TestNodes_FixedShape(t *testing.T) {
	s, _ := newService(t)
	seedling := s.Nodes(model.NewProgress(uuid.New()))
	grown := s.Nodes(model.RelationshipProgress{Level: 10, Stage: model.MaxStage})
	require.Len(t, seedling, defaultNodes)
	require.Len(t, grown, defaultNodes)
	for i := range seedling {
		assert.Equal(t, seedling[i].ID, grown[i].ID)
		assert.True(t, grown[i].Unlocked, grown[i].ID)
	}

	assert.Equal(t, "ring:1", seedling[0].ID)
	assert.Equal(t, "New Connection", seedling[0].Label)
	assert.Equal(t, "branch:sprout", seedling[10].ID)
	assert.Equal(t, "Sprout", seedling[10].Label)
	assert.Equal(t, "Young Tree", seedling[12].Label)
	assert.Equal(t, "Reach level 3 with frequent contact or a recurring topic", seedling[11].Requirement)
	assert.Equal(t, "blossom:3", seedling[15].ID)
	assert.Equal(t, "Building Bonds", seedling[15].Label)
}

func TestRelationshipTree(t *testing.T) {
	s, _ := newService(t)
	rel := model.Relationship{ID: uuid.New(), Name: "Ada"}
	p := progressAt(22, model.StageSapling)
	p.Level = 1 // stale; the tree recomputes it from XP

	tr := s.RelationshipTree(rel, p)
	assert.Equal(t, rel.ID, tr.RelationshipID)
	assert.Equal(t, 4, tr.Level)
	assert.Equal(t, "Good Friend", tr.Title)
	assert.Equal(t, 36, tr.XPForNext)
	assert.InDelta(t, 0.0, tr.Progress, 1e-9)
	assert.Equal(t, []string{"First Connection", "Building Bonds", "Growing Closer"}, tr.Achievements)
	assert.Equal(t, 7, tr.Unlocked())
	assert.InDelta(t, 0.368, tr.Completion, 1e-9)
}

func TestCompletionStatus(t *testing.T) {
	s, _ := newService(t)
	tests := []struct {
		name string
		p    model.RelationshipProgress
		want float64
	}{
		{"new", model.NewProgress(uuid.New()), 0.053},
		{"mid", progressAt(22, model.StageSapling), 0.368},
		{"complete", progressAt(190, model.StageAncientTree), 1},
		{"beyond max xp", progressAt(5000, model.StageAncientTree), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.CompletionStatus(tt.p)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestSuggestEvolution(t *testing.T) {
	s, _ := newService(t)
	tests := []struct {
		name string
		p    model.RelationshipProgress
		want string
	}{
		{"needs level", progressAt(0, model.StageSeed),
			"Earn 5 more XP to reach level 2, then keep interacting to grow into a sprout."},
		{"level met without conditions", progressAt(5, model.StageSeed),
			"Log your next interaction to grow into a sprout."},
		{"needs any pattern", progressAt(12, model.StageSprout),
			"Show frequent contact or a recurring topic to grow into a sapling."},
		{"needs all patterns", progressAt(78, model.StageYoungTree),
			"Show frequent contact and consistently positive interactions to grow into a mature tree."},
		{"article", progressAt(145, model.StageMatureTree),
			"Earn 45 more XP to reach level 10, then show consistently positive interactions to grow into an ancient tree."},
		{"final stage, more levels", progressAt(100, model.StageAncientTree),
			"Earn 8 more XP to reach level 8 (Soul Connection)."},
		{"fully grown", progressAt(190, model.StageAncientTree), "Your tree is fully grown."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := tt.p
			assert.Equal(t, tt.want, s.SuggestEvolution(tt.p))
			assert.Equal(t, before, tt.p)
		})
	}
}

func TestGlobalTree_Empty(t *testing.T) {
	s, _ := newService(t)
	g := s.GlobalTree(nil, nil)
	assert.Zero(t, g.Relationships)
	assert.Zero(t, g.Completion)
	assert.Zero(t, g.AverageLevel)
	assert.NotNil(t, g.Trees)
	assert.Empty(t, g.Trees)
	assert.Len(t, g.StageCounts, int(model.MaxStage)+1)
}

func TestGlobalTree_Aggregates(t *testing.T) {
	s, _ := newService(t)
	ada := model.Relationship{ID: uuid.New(), Name: "Ada"}
	bo := model.Relationship{ID: uuid.New(), Name: "Bo"}
	progress := map[uuid.UUID]model.RelationshipProgress{
		ada.ID: {RelationshipID: ada.ID, XP: 36, Stage: model.StageSapling},
	}

	g := s.GlobalTree([]model.Relationship{bo, ada}, progress)
	assert.Equal(t, 2, g.Relationships)
	assert.Equal(t, 36, g.TotalXP)
	assert.Equal(t, 5, g.HighestLevel)
	assert.Equal(t, 3.0, g.AverageLevel)
	assert.Equal(t, 1, g.StageCounts["seed"])
	assert.Equal(t, 1, g.StageCounts["sapling"])
	assert.Equal(t, 2*defaultNodes, g.TotalNodes)
	assert.Equal(t, 9+1, g.UnlockedNodes)
	require.Len(t, g.Trees, 2)
	assert.Equal(t, "Ada", g.Trees[0].Name, "highest XP first")
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	s, repo := newService(t)
	rel := model.Relationship{ID: uuid.New(), Name: "Ada"}
	require.NoError(t, repo.PutRelationship(ctx, rel))

	tr, err := s.Load(ctx, rel.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Level)

	_, err = s.Load(ctx, uuid.New())
	assert.ErrorIs(t, err, storage.ErrNotFound)

	g, err := s.LoadGlobal(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, g.Relationships)
}
