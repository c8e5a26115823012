// Package statuseval implements the pure status-evaluation function C5
// (spec.md §4.5): age → status, with per-transition gating.
package statuseval

import (
	"time"

	"github.com/tabkeeper/tabkeeper/internal/settings"
	"github.com/tabkeeper/tabkeeper/internal/tabmeta"
)

// Transient is the phase-4 routing signal for a tab whose age has crossed
// red_to_gone. It is deliberately not a tabmeta.Status: spec.md's glossary
// is explicit that gone-transient is "never persisted to tab metadata".
const Transient = "gone-transient"

// ComputeStatus is the pure age → status function, spec.md §4.5. It
// returns either a tabmeta.Status or statuseval.Transient.
func ComputeStatus(age time.Duration, t settings.Thresholds, gates GateSet) string {
	if age < t.GreenToYellow {
		return string(tabmeta.StatusGreen)
	}
	if !gates.GreenToYellowEnabled {
		return string(tabmeta.StatusGreen)
	}

	if age < t.YellowToRed {
		return string(tabmeta.StatusYellow)
	}
	if !gates.YellowToRedEnabled {
		return string(tabmeta.StatusYellow)
	}

	if age < t.RedToGone {
		return string(tabmeta.StatusRed)
	}
	if !gates.RedToGoneEnabled {
		return string(tabmeta.StatusRed)
	}

	return Transient
}

// GateSet is the subset of Settings that gates individual transitions.
type GateSet struct {
	GreenToYellowEnabled bool
	YellowToRedEnabled   bool
	RedToGoneEnabled     bool
}

// GatesFrom extracts a GateSet from a full Settings blob.
func GatesFrom(s settings.Settings) GateSet {
	return GateSet{
		GreenToYellowEnabled: s.GreenToYellowEnabled,
		YellowToRedEnabled:   s.YellowToRedEnabled,
		RedToGoneEnabled:     s.RedToGoneEnabled,
	}
}

// Age computes a tab's age under the configured time mode (spec.md §4.5).
func Age(m *tabmeta.Meta, currentActiveTime int64, nowWall int64, mode settings.TimeMode) time.Duration {
	if mode == settings.TimeModeWallclock {
		return time.Duration(nowWall-m.RefreshWallTime) * time.Millisecond
	}
	return time.Duration(currentActiveTime-m.RefreshActiveTime) * time.Millisecond
}

// Transition is one tab's status change as reported by EvaluateAll.
type Transition struct {
	TabID string
	Old   tabmeta.Status
	New   string // tabmeta.Status value, or statuseval.Transient
}

// EvaluateAll is the batch variant, spec.md §4.5: returns only tabs whose
// status changed, skipping pinned tabs (tabmeta never holds pinned tabs to
// begin with, per spec.md §4.3, so "skipping" here is simply "the registry
// never handed us one").
func EvaluateAll(tabs map[string]*tabmeta.Meta, currentActiveTime int64, nowWall int64, s settings.Settings) []Transition {
	gates := GatesFrom(s)
	var out []Transition

	for id, m := range tabs {
		age := Age(m, currentActiveTime, nowWall, s.TimeMode)
		newStatus := ComputeStatus(age, s.Thresholds, gates)
		if newStatus == string(m.Status) {
			continue
		}
		out = append(out, Transition{TabID: id, Old: m.Status, New: newStatus})
	}
	return out
}
