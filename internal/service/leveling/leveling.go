// Package leveling maps cumulative XP onto relationship levels.
//
// A Table is a fixed, strictly ascending list of cumulative XP thresholds.
// Level L is reached once XP >= thresholds[L-1]; the first threshold is
// always 0, so every relationship starts at level 1.
package leveling

import (
	"fmt"
	"sort"
)

// MaxLevelXP is returned by XPForNextLevel when there is no next level.
const MaxLevelXP = -1

// Table is an immutable level curve. Safe for concurrent use.
type Table struct {
	thresholds []int
	titles     []string
}

// New validates thresholds and builds a Table. titles is optional; when
// present it must carry one title per level.
func New(thresholds []int, titles []string) (*Table, error) {
	if len(thresholds) == 0 {
		return nil, fmt.Errorf("leveling: empty threshold table")
	}
	if thresholds[0] != 0 {
		return nil, fmt.Errorf("leveling: first threshold must be 0, got %d", thresholds[0])
	}
	for i := 1; i < len(thresholds); i++ {
		if thresholds[i] <= thresholds[i-1] {
			return nil, fmt.Errorf("leveling: thresholds must be strictly ascending at index %d", i)
		}
	}
	if len(titles) != 0 && len(titles) != len(thresholds) {
		return nil, fmt.Errorf("leveling: %d titles for %d levels", len(titles), len(thresholds))
	}
	return &Table{
		thresholds: append([]int(nil), thresholds...),
		titles:     append([]string(nil), titles...),
	}, nil
}

// MaxLevel is the highest reachable level.
func (t *Table) MaxLevel() int {
	return len(t.thresholds)
}

// Thresholds returns a copy of the threshold table.
func (t *Table) Thresholds() []int {
	return append([]int(nil), t.thresholds...)
}

// CalculateLevel returns the level for cumulative xp. Negative xp is treated as 0.
func (t *Table) CalculateLevel(xp int) int {
	if xp < 0 {
		xp = 0
	}
	// Number of thresholds <= xp.
	return sort.Search(len(t.thresholds), func(i int) bool { return t.thresholds[i] > xp })
}

// Threshold returns the cumulative XP at which level is reached.
// Levels outside the table are clamped.
func (t *Table) Threshold(level int) int {
	return t.thresholds[t.clamp(level)-1]
}

// XPForNextLevel returns the cumulative XP needed to reach level+1, or
// MaxLevelXP when level is already the maximum.
func (t *Table) XPForNextLevel(level int) int {
	level = t.clamp(level)
	if level >= t.MaxLevel() {
		return MaxLevelXP
	}
	return t.thresholds[level]
}

// ProgressInLevel returns how far xp has advanced from level's threshold
// toward the next one, in [0, 1). At the maximum level it is 0.
// xp outside the level's band is clamped into it.
func (t *Table) ProgressInLevel(xp, level int) float64 {
	level = t.clamp(level)
	if level >= t.MaxLevel() {
		return 0
	}
	lo, hi := t.thresholds[level-1], t.thresholds[level]
	switch {
	case xp < lo:
		xp = lo
	case xp >= hi:
		xp = hi - 1
	}
	return float64(xp-lo) / float64(hi-lo)
}

// Title returns the display title of level, or "Level N" when the table has none.
func (t *Table) Title(level int) string {
	level = t.clamp(level)
	if len(t.titles) == 0 {
		return fmt.Sprintf("Level %d", level)
	}
	return t.titles[level-1]
}

func (t *Table) clamp(level int) int {
	return min(max(level, 1), t.MaxLevel())
}
