// Package core wires C1-C8 and their collaborators into one running
// host process: open storage, connect the browser, bootstrap settings,
// hydrate every registry, start the event pump, and run the periodic
// alarm that drives evaluation even when the browser stays quiet.
// Grounded on the teacher's cdp.Manager — the struct main.go constructs
// and calls Start/Stop on — generalized from "one CDP connection plus a
// fleet of per-tab monitors" to "one evaluation core plus its reactive
// dispatcher".
package core

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/tabkeeper/tabkeeper/internal/activetime"
	"github.com/tabkeeper/tabkeeper/internal/bookmarks"
	"github.com/tabkeeper/tabkeeper/internal/bookmarkstate"
	"github.com/tabkeeper/tabkeeper/internal/browserapi"
	"github.com/tabkeeper/tabkeeper/internal/cdp"
	"github.com/tabkeeper/tabkeeper/internal/dispatcher"
	"github.com/tabkeeper/tabkeeper/internal/kv"
	"github.com/tabkeeper/tabkeeper/internal/router"
	"github.com/tabkeeper/tabkeeper/internal/scheduler"
	"github.com/tabkeeper/tabkeeper/internal/settings"
	"github.com/tabkeeper/tabkeeper/internal/tabregistry"
	"github.com/tabkeeper/tabkeeper/internal/taillog"
	"github.com/tabkeeper/tabkeeper/internal/windowregistry"
)

const bookmarkStateKey = "bookmark_state"
const evalAlarmName = "tabkeeper-eval"

// Config bootstraps one Core. AutoLaunch/ChromePort/ExtensionHint locate
// and drive the browser side; the remaining paths locate the daemon's
// on-disk state.
type Config struct {
	ChromePort    string
	AutoLaunch    bool
	ExtensionHint string

	KVPath           string
	TailLogPath      string // "" disables the diagnostic sink
	SettingsSeedPath string // "" skips YAML bootstrap, spec defaults apply

	RedactBookmarkURLs bool
	EvalAlarmPeriodMS  int64
}

// DefaultConfig mirrors the teacher's DefaultConfig(), one constant per
// field with a sane out-of-the-box value.
func DefaultConfig() Config {
	return Config{
		ChromePort:        "9222",
		AutoLaunch:        false,
		KVPath:            "tabkeeper.db",
		TailLogPath:       "tabkeeper.jsonl",
		EvalAlarmPeriodMS: 60_000,
	}
}

// Core owns every collaborator's lifetime for one host-process run.
type Core struct {
	cfg Config

	store   kv.Store
	browser *browserapi.CDPBrowserAPI
	logSink *taillog.Sink

	settingsM  *settings.Model
	tabs       *tabregistry.Registry
	windows    *windowregistry.Registry
	activeTime *activetime.Accumulator
	bookmarker *bookmarks.Writer

	router     *router.Router
	scheduler  *scheduler.Scheduler
	dispatcher *dispatcher.Dispatcher

	chromeProcess *cdp.ChromeProcess
	sessionID     string

	cancel    context.CancelFunc
	eventLoop chan struct{}
}

func wallClock() int64 { return time.Now().UnixMilli() }

// New constructs a Core against cfg. Nothing is opened or connected yet;
// call Start.
func New(cfg Config) *Core {
	return &Core{cfg: cfg}
}

// Start opens storage, connects to the browser, bootstraps settings,
// hydrates every registry from KV, and begins pumping browser events and
// the periodic evaluation alarm. It returns once the event-pump goroutine
// is running; the pump runs until ctx is canceled, Stop is called, or the
// browser event stream closes. A lost browser connection is not
// re-established.
func (c *Core) Start(ctx context.Context) error {
	c.sessionID = taillog.NewSessionID()

	if c.cfg.TailLogPath != "" {
		sink, err := taillog.Open(c.cfg.TailLogPath)
		if err != nil {
			return fmt.Errorf("core: open taillog: %w", err)
		}
		c.logSink = sink
	}

	if c.cfg.AutoLaunch {
		proc, err := cdp.LaunchChrome(c.cfg.ChromePort)
		if err != nil {
			return fmt.Errorf("core: launch chrome: %w", err)
		}
		if err := cdp.WaitForChrome(c.cfg.ChromePort, 30*time.Second); err != nil {
			_ = proc.Stop()
			return fmt.Errorf("core: chrome not ready: %w", err)
		}
		c.chromeProcess = proc
		log.Printf("[core] launched chrome (pid %d) on port %s", proc.PID(), c.cfg.ChromePort)
	}

	store, err := kv.OpenSQLiteStore(c.cfg.KVPath)
	if err != nil {
		return fmt.Errorf("core: open kv: %w", err)
	}
	c.store = store

	browser := browserapi.NewCDPBrowserAPI(c.cfg.ChromePort, c.cfg.ExtensionHint)
	if err := browser.Connect(ctx); err != nil {
		return fmt.Errorf("core: connect browser: %w", err)
	}
	c.browser = browser

	c.settingsM = settings.NewModel(store)
	if _, err := c.settingsM.BootstrapFromFile(ctx, c.cfg.SettingsSeedPath); err != nil {
		return fmt.Errorf("core: bootstrap settings: %w", err)
	}

	c.windows = windowregistry.New(store)
	if err := c.windows.Load(ctx); err != nil {
		return fmt.Errorf("core: load window state: %w", err)
	}

	c.tabs = tabregistry.New(store, c.windows)
	if err := c.tabs.Load(ctx); err != nil {
		return fmt.Errorf("core: load tab meta: %w", err)
	}

	c.activeTime = activetime.New(store, wallClock)
	if err := c.activeTime.Recover(ctx); err != nil {
		return fmt.Errorf("core: recover active time: %w", err)
	}

	c.bookmarker = bookmarks.New(browser, c.cfg.RedactBookmarkURLs)
	c.seedBookmarkFolder(ctx)

	c.scheduler = scheduler.New(c.tabs, c.windows, c.settingsM, browser, c.bookmarker, c.activeTime, wallClock)
	c.scheduler.SetLogSink(c.logSink)

	c.router = router.New(c.tabs, c.windows, c.activeTime, c.settingsM, browser, wallClock, c.scheduler.RequestEval)

	// Constructed last: New self-subscribes to settingsM.OnChange, and
	// bootstrap's seed-file Save above must not be mistaken for a user
	// settings edit (old == zero-value Settings in that case).
	c.dispatcher = dispatcher.New(c.settingsM, c.tabs, c.windows, browser, wallClock, c.activeTime.GetCurrent, c.scheduler.RequestEval)
	c.dispatcher.SetLogSink(c.logSink)

	if err := browser.CreateAlarm(ctx, evalAlarmName, c.cfg.EvalAlarmPeriodMS); err != nil {
		log.Printf("[core] warning: create eval alarm: %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	events, err := browser.Subscribe(cctx)
	if err != nil {
		return fmt.Errorf("core: subscribe to browser events: %w", err)
	}

	c.eventLoop = make(chan struct{})
	go c.pump(cctx, events)

	return nil
}

// pump is the event-dispatch goroutine: every browser event goes through
// router.Dispatch, never evaluation logic inline (spec.md §4.7 "run_cycle
// is the only code path that rewrites layout").
func (c *Core) pump(ctx context.Context, events <-chan browserapi.Event) {
	defer close(c.eventLoop)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := c.router.Dispatch(ctx, ev); err != nil {
				log.Printf("[core] dispatch %s: %v", ev.Kind, err)
				_ = c.logSink.Log(taillog.Event{Time: time.Now(), Kind: taillog.KindError, Detail: err.Error()})
			}
		}
	}
}

// seedBookmarkFolder primes the bookmark writer's folder cache from the
// previous process's resolution (spec.md §6 bookmark folder resilience),
// so the first write of this run skips the root-folder title scan.
func (c *Core) seedBookmarkFolder(ctx context.Context) {
	values, err := c.store.Get(ctx, bookmarkStateKey)
	if err != nil {
		log.Printf("[core] warning: load bookmark state: %v", err)
		return
	}
	raw, ok := values[bookmarkStateKey]
	if !ok {
		return
	}
	var state bookmarkstate.State
	if err := json.Unmarshal(raw, &state); err != nil {
		log.Printf("[core] warning: unmarshal bookmark state: %v", err)
		return
	}
	c.bookmarker.SeedFolderID(state.FolderID)
}

// persistBookmarkFolder writes back whatever folder id the bookmark
// writer resolved to this process lifetime, so the next process can skip
// straight to it via seedBookmarkFolder.
func (c *Core) persistBookmarkFolder(ctx context.Context) error {
	id := c.bookmarker.FolderID()
	if id == "" {
		return nil
	}
	data, err := json.Marshal(bookmarkstate.State{FolderID: id})
	if err != nil {
		return err
	}
	return c.store.Set(ctx, map[string][]byte{bookmarkStateKey: data})
}

// Stop cancels the event pump, flushes every registry and the active-time
// clock back to KV, persists the resolved bookmark folder, and closes the
// browser connection, the KV store, and the diagnostic sink — in that
// order, so nothing is closed while something else might still write to
// it.
func (c *Core) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.eventLoop != nil {
		<-c.eventLoop
	}

	var firstErr error
	record := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if c.windows != nil {
		record(c.windows.Flush(ctx))
	}
	if c.tabs != nil {
		record(c.tabs.Flush(ctx))
	}
	if c.activeTime != nil {
		record(c.activeTime.PersistTick(ctx))
	}
	if c.bookmarker != nil {
		record(c.persistBookmarkFolder(ctx))
	}
	if c.chromeProcess != nil {
		record(c.chromeProcess.Stop())
	}
	if c.browser != nil {
		record(c.browser.Close())
	}
	if c.store != nil {
		record(c.store.Close())
	}
	record(c.logSink.Close())

	return firstErr
}

// SessionID returns the uuid stamped on this run's taillog lines.
func (c *Core) SessionID() string { return c.sessionID }

// RequestEval exposes the scheduler's trigger for callers outside the
// event pump.
func (c *Core) RequestEval(debounce bool) {
	if c.scheduler != nil {
		c.scheduler.RequestEval(debounce)
	}
}

// Settings returns the live settings snapshot.
func (c *Core) Settings() settings.Settings {
	return c.settingsM.Current()
}

// WindowIDs returns every window the registry currently tracks.
func (c *Core) WindowIDs() []string {
	return c.windows.WindowIDs()
}
