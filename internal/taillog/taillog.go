// Package taillog is the evaluation cycle's diagnostic sink: an
// append-only JSON-lines record of the lifecycle events run_cycle() and
// the reactive dispatcher produce (group closures, bookmark writes, auto
// naming, settings-driven side effects). Grounded on the teacher's
// internal/logger.FileManager — a buffered, per-key file writer with a
// smart flush strategy — generalized from "one file per tab+site" to a
// single append-only daemon log, keeping the same meta-events-sync-
// immediately / routine-events-defer-flush split.
package taillog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultBufferSize mirrors the teacher's file writer buffer size.
const DefaultBufferSize = 8 * 1024

// DefaultFlushInterval mirrors the teacher's deferred-flush cadence.
const DefaultFlushInterval = 100 * time.Millisecond

// NewSessionID generates the daemon's process-lifetime identifier,
// stamped on every taillog line via the caller's own Detail/fields.
// Grounded on the teacher's logger.GetSessionID: a once-per-process
// uuid, generalized from a package-level sync.Once singleton (one
// process, one log tree) into a plain constructor internal/core calls
// once at startup and threads through explicitly.
func NewSessionID() string {
	return uuid.New().String()
}

// Kind identifies the sort of lifecycle event being recorded.
type Kind string

const (
	KindCycleStart       Kind = "cycle.start"
	KindCycleEnd         Kind = "cycle.end"
	KindStatusTransition Kind = "status.transition"
	KindGroupClosed      Kind = "group.closed"
	KindTabClosed        Kind = "tab.closed"
	KindBookmarkWritten  Kind = "bookmark.written"
	KindAutoNamed        Kind = "group.autonamed"
	KindSettingsChanged  Kind = "settings.changed"
	KindError            Kind = "error"
)

// critical returns true for events that must hit disk before the writer
// returns control — a tab/group close or a hard error is not something a
// crash should be allowed to lose, matching the teacher's "meta events
// MUST be synced immediately" rule.
func (k Kind) critical() bool {
	switch k {
	case KindGroupClosed, KindTabClosed, KindError:
		return true
	default:
		return false
	}
}

// Event is one line of the diagnostic log.
type Event struct {
	Time     time.Time `json:"time"`
	Kind     Kind      `json:"kind"`
	WindowID string    `json:"window_id,omitempty"`
	GroupID  string    `json:"group_id,omitempty"`
	TabID    string    `json:"tab_id,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// Sink is a single buffered, append-only log file shared by every
// collaborator that wants to record what it just did.
type Sink struct {
	mu            sync.Mutex
	file          *os.File
	writer        *bufio.Writer
	flushTimer    *time.Timer
	flushInterval time.Duration
}

// Open creates (or appends to) the diagnostic log at path.
func Open(path string) (*Sink, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &Sink{
		file:          f,
		writer:        bufio.NewWriterSize(f, DefaultBufferSize),
		flushInterval: DefaultFlushInterval,
	}, nil
}

// Log appends ev to the file, synchronously flushing (and syncing) it to
// disk when ev.Kind is critical; otherwise a flush is scheduled for
// flushInterval out, coalescing with any already pending.
func (s *Sink) Log(ev Event) error {
	if s == nil {
		return nil
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.writer.Write(append(data, '\n')); err != nil {
		return err
	}

	if ev.Kind.critical() || s.writer.Buffered() > s.writer.Size()*3/4 {
		s.cancelFlushTimerLocked()
		if err := s.writer.Flush(); err != nil {
			return err
		}
		if ev.Kind.critical() {
			return s.file.Sync()
		}
		return nil
	}

	s.scheduleFlushLocked()
	return nil
}

func (s *Sink) scheduleFlushLocked() {
	if s.flushTimer != nil {
		return
	}
	s.flushTimer = time.AfterFunc(s.flushInterval, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		_ = s.writer.Flush()
		s.flushTimer = nil
	})
}

func (s *Sink) cancelFlushTimerLocked() {
	if s.flushTimer != nil {
		s.flushTimer.Stop()
		s.flushTimer = nil
	}
}

// Close flushes and closes the underlying file.
func (s *Sink) Close() error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelFlushTimerLocked()
	if err := s.writer.Flush(); err != nil {
		return err
	}
	if err := s.file.Sync(); err != nil {
		return err
	}
	return s.file.Close()
}
