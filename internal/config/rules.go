package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dytto-app/dytto/internal/model"
)

// Rules are the tunable tables of the game: level curve, XP formula, pattern
// heuristics, evolution and quest rules, and insight windows.
type Rules struct {
	LevelThresholds []int           `yaml:"level_thresholds"`
	LevelTitles     []string        `yaml:"level_titles"`
	Achievements    map[int]string  `yaml:"achievements"`
	XP              XPRules         `yaml:"xp"`
	Patterns        PatternRules    `yaml:"patterns"`
	Evolution       []EvolutionRule `yaml:"evolution"`
	Quests          []QuestRule     `yaml:"quests"`
	Insights        InsightRules    `yaml:"insights"`
}

// XPRules parameterize the per-log XP formula.
type XPRules struct {
	Base            int           `yaml:"base"`
	LengthUnit      int           `yaml:"length_unit"` // bytes of content per length point
	LengthCap       int           `yaml:"length_cap"`
	SentimentWeight float64       `yaml:"sentiment_weight"`
	NoveltyBonus    int           `yaml:"novelty_bonus"`
	RecencyWindow   time.Duration `yaml:"recency_window"`
	EarlyLevelBonus int           `yaml:"early_level_bonus"`
	EarlyLevelMax   int           `yaml:"early_level_max"`
	MaxPerLog       int           `yaml:"max_per_log"`
}

// PatternRules parameterize pattern detection.
type PatternRules struct {
	FrequentWindow  time.Duration `yaml:"frequent_window"`
	FrequentMin     int           `yaml:"frequent_min"`
	ReconnectGap    time.Duration `yaml:"reconnect_gap"`
	DecliningMinGap time.Duration `yaml:"declining_min_gap"`
	TrendMinScored  int           `yaml:"trend_min_scored"`
	TrendDelta      float64       `yaml:"trend_delta"`
	PositiveRatio   float64       `yaml:"positive_ratio"`
	PositiveMin     int           `yaml:"positive_min"`
	TopicLookback   int           `yaml:"topic_lookback"`
	TopicMin        int           `yaml:"topic_min"`
}

// EvolutionRule advances a relationship from one stage to the next when the
// level floor is met, every AllOf pattern is present, and at least one AnyOf
// pattern is present (when AnyOf is non-empty).
type EvolutionRule struct {
	From     string              `yaml:"from"`
	To       string              `yaml:"to"`
	MinLevel int                 `yaml:"min_level"`
	AllOf    []model.PatternKind `yaml:"all_of"`
	AnyOf    []model.PatternKind `yaml:"any_of"`
}

// FromStage returns the parsed source stage.
func (r EvolutionRule) FromStage() model.EvolutionStage {
	s, _ := model.ParseStage(r.From)
	return s
}

// ToStage returns the parsed target stage.
func (r EvolutionRule) ToStage() model.EvolutionStage {
	s, _ := model.ParseStage(r.To)
	return s
}

// QuestRule is one entry of the priority-ordered quest table. Earlier rules win.
type QuestRule struct {
	Template    string              `yaml:"template"`
	Kind        model.QuestKind     `yaml:"kind"`
	Title       string              `yaml:"title"`
	Description string              `yaml:"description"` // {name} is replaced with the relationship name
	Difficulty  string              `yaml:"difficulty"`
	XPReward    int                 `yaml:"xp_reward"`
	Target      model.QuestTarget   `yaml:"target"`
	Window      time.Duration       `yaml:"window"` // recurring only
	MinLevel    int                 `yaml:"min_level"`
	MaxLevel    int                 `yaml:"max_level"` // 0 means unbounded
	Patterns    []model.PatternKind `yaml:"patterns"`  // any of
	Category    string              `yaml:"category"`
	// MissingTopic restricts the rule to relationships where the topic is not yet recurring.
	MissingTopic string `yaml:"missing_topic"`
}

// InsightRules parameterize insight aggregation.
type InsightRules struct {
	WeeklyWindow    time.Duration `yaml:"weekly_window"`
	MonthlyWindow   time.Duration `yaml:"monthly_window"`
	ReconnectAfter  time.Duration `yaml:"reconnect_after"`
	SuggestionLimit int           `yaml:"suggestion_limit"`
	KeywordLimit    int           `yaml:"keyword_limit"`
	SeriesDays      int           `yaml:"series_days"`
}

const day = 24 * time.Hour

// DefaultRules returns the built-in game rules.
func DefaultRules() Rules {
	return Rules{
		LevelThresholds: []int{0, 5, 12, 22, 36, 54, 78, 108, 145, 190},
		LevelTitles: []string{
			"New Connection", "Acquaintance", "Friend", "Good Friend", "Close Friend",
			"Best Friend", "Confidant", "Soul Connection", "Life Partner", "Soulmate",
		},
		Achievements: map[int]string{
			2:  "First Connection",
			3:  "Building Bonds",
			4:  "Growing Closer",
			5:  "True Friendship",
			6:  "Deep Connection",
			7:  "Trusted Confidant",
			8:  "Soul Bond",
			9:  "Life Partnership",
			10: "Perfect Harmony",
		},
		XP: XPRules{
			Base:            1,
			LengthUnit:      100,
			LengthCap:       2,
			SentimentWeight: 1,
			NoveltyBonus:    1,
			RecencyWindow:   7 * day,
			EarlyLevelBonus: 1,
			EarlyLevelMax:   5,
			MaxPerLog:       5,
		},
		Patterns: PatternRules{
			FrequentWindow:  7 * day,
			FrequentMin:     3,
			ReconnectGap:    30 * day,
			DecliningMinGap: 2 * day,
			TrendMinScored:  4,
			TrendDelta:      0.3,
			PositiveRatio:   0.8,
			PositiveMin:     3,
			TopicLookback:   10,
			TopicMin:        3,
		},
		Evolution: []EvolutionRule{
			{From: "seed", To: "sprout", MinLevel: 2},
			{From: "sprout", To: "sapling", MinLevel: 3,
				AnyOf: []model.PatternKind{model.PatternFrequentContact, model.PatternRecurringTopic}},
			{From: "sapling", To: "young_tree", MinLevel: 5,
				AnyOf: []model.PatternKind{model.PatternConsistentlyPositive, model.PatternSentimentImproving}},
			{From: "young_tree", To: "mature_tree", MinLevel: 7,
				AllOf: []model.PatternKind{model.PatternFrequentContact, model.PatternConsistentlyPositive}},
			{From: "mature_tree", To: "ancient_tree", MinLevel: 10,
				AllOf: []model.PatternKind{model.PatternConsistentlyPositive}},
		},
		Quests: defaultQuests(),
		Insights: InsightRules{
			WeeklyWindow:    7 * day,
			MonthlyWindow:   30 * day,
			ReconnectAfter:  7 * day,
			SuggestionLimit: 3,
			KeywordLimit:    5,
			SeriesDays:      30,
		},
	}
}

func defaultQuests() []QuestRule {
	return []QuestRule{
		{
			Template:    "getting_to_know_you",
			Kind:        model.QuestMilestone,
			Title:       "Getting to Know You",
			Description: "Learn more about {name} and reach level 3 together.",
			Difficulty:  "easy",
			XPReward:    10,
			MaxLevel:    2,
			Target:      model.QuestTarget{Type: model.TargetReachLevel, Value: 3},
		},
		{
			Template:    "reconnect",
			Kind:        model.QuestRecurring,
			Title:       "Reconnect",
			Description: "It has been a while. Reach out twice this week.",
			Difficulty:  "medium",
			XPReward:    12,
			Window:      7 * day,
			Patterns:    []model.PatternKind{model.PatternReconnection, model.PatternDecliningFrequency},
			Target:      model.QuestTarget{Type: model.TargetInteractionsInWindow, Value: 2},
		},
		{
			Template:    "foundation_builder",
			Kind:        model.QuestMilestone,
			Title:       "Foundation Builder",
			Description: "Share a meaningful memory with {name}.",
			Difficulty:  "easy",
			XPReward:    15,
			MinLevel:    3,
			Target:      model.QuestTarget{Type: model.TargetInteractionsInWindow, Value: 1},
		},
		{
			Template:    "trust_deepener",
			Kind:        model.QuestMilestone,
			Title:       "Trust Deepener",
			Description: "Plan a special activity together with {name}.",
			Difficulty:  "medium",
			XPReward:    20,
			MinLevel:    5,
			Target:      model.QuestTarget{Type: model.TargetInteractionsInWindow, Value: 1},
		},
		{
			Template:    "bond_strengthener",
			Kind:        model.QuestMilestone,
			Title:       "Bond Strengthener",
			Description: "Have a deep conversation about life goals with {name}.",
			Difficulty:  "hard",
			XPReward:    25,
			MinLevel:    7,
			Target:      model.QuestTarget{Type: model.TargetInteractionsInWindow, Value: 1},
		},
		{
			Template:    "soul_connection",
			Kind:        model.QuestMilestone,
			Title:       "Soul Connection",
			Description: "Celebrate your amazing friendship with {name}.",
			Difficulty:  "legendary",
			XPReward:    30,
			MinLevel:    10,
			Target:      model.QuestTarget{Type: model.TargetInteractionsInWindow, Value: 1},
		},
		{
			Template:     "professional_connection",
			Kind:         model.QuestMilestone,
			Title:        "Professional Connection",
			Description:  "Talk about work or a shared project in your next two interactions.",
			Difficulty:   "easy",
			XPReward:     10,
			Category:     "Business",
			MissingTopic: "work",
			Target:       model.QuestTarget{Type: model.TargetInteractionsInWindow, Value: 2},
		},
		{
			Template:     "interest_explorer",
			Kind:         model.QuestMilestone,
			Title:        "Interest Explorer",
			Description:  "Discover a hobby or interest you share.",
			Difficulty:   "medium",
			XPReward:     10,
			MinLevel:     5,
			Category:     "Friend",
			MissingTopic: "hobbies",
			Target:       model.QuestTarget{Type: model.TargetInteractionsInWindow, Value: 2},
		},
		{
			Template:    "daily_check_in",
			Kind:        model.QuestRecurring,
			Title:       "Daily Check-in",
			Description: "Log at least one interaction today.",
			Difficulty:  "easy",
			XPReward:    5,
			Window:      day,
			Target:      model.QuestTarget{Type: model.TargetInteractionsInWindow, Value: 1},
		},
		{
			Template:    "express_gratitude",
			Kind:        model.QuestRecurring,
			Title:       "Express Gratitude",
			Description: "Share a positive moment today.",
			Difficulty:  "easy",
			XPReward:    8,
			Window:      day,
			MinLevel:    2,
			Target:      model.QuestTarget{Type: model.TargetPositiveInteractions, Value: 1},
		},
		{
			Template:    "deep_conversation",
			Kind:        model.QuestRecurring,
			Title:       "Deep Conversation",
			Description: "Have three meaningful conversations this week.",
			Difficulty:  "medium",
			XPReward:    12,
			Window:      7 * day,
			MinLevel:    3,
			Target:      model.QuestTarget{Type: model.TargetInteractionsInWindow, Value: 3},
		},
		{
			Template:    "memory_lane",
			Kind:        model.QuestRecurring,
			Title:       "Memory Lane",
			Description: "Relive two happy memories together this week.",
			Difficulty:  "medium",
			XPReward:    8,
			Window:      7 * day,
			MinLevel:    4,
			Target:      model.QuestTarget{Type: model.TargetPositiveInteractions, Value: 2},
		},
		{
			Template:    "connection_builder",
			Kind:        model.QuestMilestone,
			Title:       "Connection Builder",
			Description: "Log five more interactions to keep the connection growing.",
			Difficulty:  "easy",
			XPReward:    10,
			Target:      model.QuestTarget{Type: model.TargetInteractionsInWindow, Value: 5},
		},
	}
}

// LoadRules reads a YAML rules file on top of DefaultRules. Lists in the file
// replace the defaults wholesale; scalars override individually.
func LoadRules(path string) (Rules, error) {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied path
	if err != nil {
		return Rules{}, fmt.Errorf("config: read rules file: %w", err)
	}
	rules := DefaultRules()
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return Rules{}, fmt.Errorf("config: parse rules file %s: %w", path, err)
	}
	if err := rules.Validate(); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// Validate checks the structural contract of the rule tables.
func (r Rules) Validate() error {
	if len(r.LevelThresholds) == 0 {
		return fmt.Errorf("config: level_thresholds must not be empty")
	}
	if r.LevelThresholds[0] != 0 {
		return fmt.Errorf("config: level_thresholds must start at 0")
	}
	for i := 1; i < len(r.LevelThresholds); i++ {
		if r.LevelThresholds[i] <= r.LevelThresholds[i-1] {
			return fmt.Errorf("config: level_thresholds must be strictly ascending (index %d)", i)
		}
	}
	if len(r.LevelTitles) != 0 && len(r.LevelTitles) != len(r.LevelThresholds) {
		return fmt.Errorf("config: level_titles must have one entry per level")
	}

	if r.XP.LengthUnit <= 0 {
		return fmt.Errorf("config: xp.length_unit must be positive")
	}
	if r.XP.MaxPerLog <= 0 {
		return fmt.Errorf("config: xp.max_per_log must be positive")
	}
	if r.XP.Base < 0 || r.XP.LengthCap < 0 || r.XP.NoveltyBonus < 0 || r.XP.EarlyLevelBonus < 0 {
		return fmt.Errorf("config: xp bonuses must not be negative")
	}

	if r.Patterns.FrequentMin <= 0 || r.Patterns.TopicMin <= 0 || r.Patterns.PositiveMin <= 0 {
		return fmt.Errorf("config: pattern minimum counts must be positive")
	}
	if r.Patterns.TopicLookback < r.Patterns.TopicMin {
		return fmt.Errorf("config: patterns.topic_lookback must be at least topic_min")
	}

	fromSeen := make(map[model.EvolutionStage]bool, len(r.Evolution))
	for i, e := range r.Evolution {
		from, ok := model.ParseStage(e.From)
		if !ok {
			return fmt.Errorf("config: evolution[%d]: unknown stage %q", i, e.From)
		}
		if fromSeen[from] {
			return fmt.Errorf("config: evolution[%d]: duplicate rule from %q", i, e.From)
		}
		fromSeen[from] = true
		to, ok := model.ParseStage(e.To)
		if !ok {
			return fmt.Errorf("config: evolution[%d]: unknown stage %q", i, e.To)
		}
		if to != from+1 {
			return fmt.Errorf("config: evolution[%d]: %s must advance exactly one stage", i, e.From)
		}
	}

	seen := make(map[string]bool, len(r.Quests))
	for i, q := range r.Quests {
		if q.Template == "" {
			return fmt.Errorf("config: quests[%d]: template is required", i)
		}
		if seen[q.Template] {
			return fmt.Errorf("config: quests[%d]: duplicate template %q", i, q.Template)
		}
		seen[q.Template] = true
		switch q.Kind {
		case model.QuestMilestone:
		case model.QuestRecurring:
			if q.Window <= 0 {
				return fmt.Errorf("config: quests[%d]: recurring quest %q needs a positive window", i, q.Template)
			}
		default:
			return fmt.Errorf("config: quests[%d]: unknown kind %q", i, q.Kind)
		}
		switch q.Target.Type {
		case model.TargetInteractionCount, model.TargetReachLevel,
			model.TargetInteractionsInWindow, model.TargetPositiveInteractions:
		default:
			return fmt.Errorf("config: quests[%d]: unknown target type %q", i, q.Target.Type)
		}
		if q.Target.Value <= 0 {
			return fmt.Errorf("config: quests[%d]: target value must be positive", i)
		}
	}

	if r.Insights.SuggestionLimit <= 0 {
		return fmt.Errorf("config: insights.suggestion_limit must be positive")
	}
	return nil
}
