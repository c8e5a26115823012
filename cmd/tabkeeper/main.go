// tabkeeper is a read-only companion CLI for inspecting a tabkeeperd
// instance's persisted state without touching the live browser — useful
// for diagnosing "nothing happened", the only user-visible failure mode
// the core reports. Grounded on the teacher's control.Controller: a
// read/inspect-oriented companion to the write-heavy manager, here
// pointed at the KV store instead of a live CDP session.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabkeeper/tabkeeper/internal/kv"
	"github.com/tabkeeper/tabkeeper/internal/settings"
	"github.com/tabkeeper/tabkeeper/internal/tabregistry"
	"github.com/tabkeeper/tabkeeper/internal/windowregistry"
)

var kvPath string

var rootCmd = &cobra.Command{
	Use:   "tabkeeper",
	Short: "Inspect a tabkeeperd instance's persisted state",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&kvPath, "kv-path", "tabkeeper.db",
		"Path to tabkeeperd's sqlite state database")
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(dumpWindowCmd)
}

// openStores opens the same sqlite file tabkeeperd writes, loads the
// registries from it, and returns them read-only: no BrowserAPI
// connection, no event pump, no writes back out.
func openStores() (*windowregistry.Registry, *tabregistry.Registry, *settings.Model, func(), error) {
	store, err := kv.OpenSQLiteStore(kvPath)
	if err != nil {
		return nil, nil, nil, nil, fmt.Errorf("open kv at %s: %w", kvPath, err)
	}
	closeFn := func() { _ = store.Close() }

	ctx := context.Background()
	windows := windowregistry.New(store)
	if err := windows.Load(ctx); err != nil {
		closeFn()
		return nil, nil, nil, nil, fmt.Errorf("load window state: %w", err)
	}

	tabs := tabregistry.New(store, windows)
	if err := tabs.Load(ctx); err != nil {
		closeFn()
		return nil, nil, nil, nil, fmt.Errorf("load tab meta: %w", err)
	}

	settingsM := settings.NewModel(store)
	if _, err := settingsM.Load(ctx); err != nil {
		closeFn()
		return nil, nil, nil, nil, fmt.Errorf("load settings: %w", err)
	}

	return windows, tabs, settingsM, closeFn, nil
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Summarize tracked windows and tab status counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		windows, tabs, settingsM, closeFn, err := openStores()
		if err != nil {
			return err
		}
		defer closeFn()

		s := settingsM.Current()
		fmt.Printf("time_mode=%s aging_enabled=%v thresholds=[%s %s %s]\n",
			s.TimeMode, s.AgingEnabled,
			s.Thresholds.GreenToYellow, s.Thresholds.YellowToRed, s.Thresholds.RedToGone)

		windowIDs := windows.WindowIDs()
		sort.Strings(windowIDs)

		counts := map[string]int{}
		for _, m := range tabs.All() {
			counts[string(m.Status)]++
		}
		fmt.Printf("windows=%d tabs=%d (green=%d yellow=%d red=%d)\n",
			len(windowIDs), len(tabs.All()), counts["green"], counts["yellow"], counts["red"])

		for _, id := range windowIDs {
			members := tabs.ForWindow(id)
			fmt.Printf("  window %s: %d tabs\n", id, len(members))
		}
		return nil
	},
}

var dumpWindowCmd = &cobra.Command{
	Use:   "dump-window <window-id>",
	Short: "Dump one window's tracked state in detail",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		windowID := args[0]

		windows, tabs, _, closeFn, err := openStores()
		if err != nil {
			return err
		}
		defer closeFn()

		state := windows.Get(windowID)
		if state == nil {
			return fmt.Errorf("window %s: not tracked", windowID)
		}

		fmt.Printf("window %s\n", windowID)
		for color, groupID := range state.SpecialGroups {
			fmt.Printf("  special[%s] = %s\n", color, groupID)
		}
		for groupID, zone := range state.GroupZones {
			fmt.Printf("  zone[%s] = %s\n", groupID, zone)
		}

		members := tabs.ForWindow(windowID)
		tabIDs := make([]string, 0, len(members))
		for id := range members {
			tabIDs = append(tabIDs, id)
		}
		sort.Strings(tabIDs)
		for _, id := range tabIDs {
			m := members[id]
			age := time.Duration(0)
			if m.RefreshWallTime > 0 {
				age = time.Since(time.UnixMilli(m.RefreshWallTime))
			}
			fmt.Printf("  tab %s: status=%s group=%s special=%v age=%s\n",
				m.TabID, m.Status, m.GroupID, m.IsSpecialGroup, age.Round(time.Second))
		}
		return nil
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
