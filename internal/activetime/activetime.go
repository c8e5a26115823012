// Package activetime implements C1, the Active-Time Accumulator: a
// monotonic count of milliseconds during which some window of the browser
// held OS focus (spec.md §4.1). Grounded on the teacher's
// internal/logger.FileManager persistence-on-every-event discipline,
// generalized from "flush a log line" to "flush a KV triple".
package activetime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

const storeKey = "active_time"

// persisted is the {accumulated_ms, focus_start_time, last_persisted_at}
// triple spec.md §4.1 requires be written to KV at every focus change and
// evaluation tick.
type persisted struct {
	AccumulatedMS   int64  `json:"accumulated_ms"`
	FocusStartTime  int64  `json:"focus_start_time"` // 0 means "not focused"
	LastPersistedAt int64  `json:"last_persisted_at"`
	FocusedWindowID string `json:"focused_window_id,omitempty"`
}

// Store is the narrow KV surface activetime depends on; satisfied by
// internal/kv.Store.
type Store interface {
	Get(ctx context.Context, keys ...string) (map[string][]byte, error)
	Set(ctx context.Context, values map[string][]byte) error
}

// Clock abstracts "now" in milliseconds so tests can control time without
// sleeping; production code supplies a wall-clock-backed implementation.
type Clock func() int64

// Accumulator tracks total OS focus time, persisting after every mutation
// and surviving host-process restarts via recover() (spec.md §4.1).
type Accumulator struct {
	store Store
	clock Clock

	mu              sync.Mutex
	accumulatedMS   int64
	focusStartTime  int64
	focusedWindowID string
}

// New constructs an Accumulator backed by store, using clock for "now".
func New(store Store, clock Clock) *Accumulator {
	return &Accumulator{store: store, clock: clock}
}

// Recover reads the stored triple on host-process start. If focus_start_time
// was non-zero when the process last persisted, the tab keeper assumes the
// user was probably focused for the gap and credits
// now - last_persisted_at to the accumulator; if it was zero, nothing is
// added (spec.md §4.1). KV read and decode errors are returned to the
// caller; the accumulator is then left unchanged, starting from zero.
func (a *Accumulator) Recover(ctx context.Context) error {
	values, err := a.store.Get(ctx, storeKey)
	if err != nil {
		return fmt.Errorf("activetime: recover: %w", err)
	}
	raw, ok := values[storeKey]
	if !ok {
		return nil
	}
	var p persisted
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("activetime: recover: unmarshal: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.accumulatedMS = p.AccumulatedMS
	now := a.clock()
	if p.FocusStartTime != 0 {
		a.accumulatedMS += now - p.LastPersistedAt
		a.focusStartTime = now
		a.focusedWindowID = p.FocusedWindowID
	}
	return nil
}

// GetCurrent returns the total accumulated active time as of now,
// including any in-progress focus session (spec.md §4.1).
func (a *Accumulator) GetCurrent() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentLocked()
}

func (a *Accumulator) currentLocked() int64 {
	if a.focusStartTime == 0 {
		return a.accumulatedMS
	}
	return a.accumulatedMS + (a.clock() - a.focusStartTime)
}

// HandleFocusChange folds the just-ended focus session (if any) into the
// accumulator and starts a new one for newWindowID, or stops accumulating
// entirely when newWindowID is "" (browser lost OS focus). It always
// persists the updated triple afterward (spec.md §4.1); KV errors are
// returned for the caller to log and swallow, never panicked on.
func (a *Accumulator) HandleFocusChange(ctx context.Context, newWindowID string) error {
	a.mu.Lock()
	now := a.clock()
	if a.focusStartTime != 0 {
		a.accumulatedMS += now - a.focusStartTime
	}
	if newWindowID == "" {
		a.focusStartTime = 0
		a.focusedWindowID = ""
	} else {
		a.focusStartTime = now
		a.focusedWindowID = newWindowID
	}
	snapshot := persisted{
		AccumulatedMS:   a.accumulatedMS,
		FocusStartTime:  a.focusStartTime,
		LastPersistedAt: now,
		FocusedWindowID: a.focusedWindowID,
	}
	a.mu.Unlock()

	return a.persist(ctx, snapshot)
}

// PersistTick writes the current triple without changing focus state,
// called once per evaluation cycle so a crash mid-focus loses at most one
// cycle's worth of active time (spec.md §4.1, §4.7). The persisted total
// includes the in-progress focus session up to now, so Recover only has to
// credit the time since this write.
func (a *Accumulator) PersistTick(ctx context.Context) error {
	a.mu.Lock()
	now := a.clock()
	acc := a.accumulatedMS
	if a.focusStartTime != 0 {
		acc += now - a.focusStartTime
	}
	snapshot := persisted{
		AccumulatedMS:   acc,
		FocusStartTime:  a.focusStartTime,
		LastPersistedAt: now,
		FocusedWindowID: a.focusedWindowID,
	}
	a.mu.Unlock()

	return a.persist(ctx, snapshot)
}

func (a *Accumulator) persist(ctx context.Context, p persisted) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("activetime: marshal: %w", err)
	}
	if err := a.store.Set(ctx, map[string][]byte{storeKey: data}); err != nil {
		return fmt.Errorf("activetime: persist: %w", err)
	}
	return nil
}
