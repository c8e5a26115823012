// tabkeeperd ages, sorts, bookmarks, and closes browser tabs on a
// schedule, driven by Chrome DevTools Protocol events from a companion
// browser extension.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tabkeeper/tabkeeper/internal/config"
	"github.com/tabkeeper/tabkeeper/internal/core"
)

var cfg = config.DefaultConfig()

var rootCmd = &cobra.Command{
	Use:   "tabkeeperd",
	Short: "Age, sort, bookmark, and close browser tabs on a schedule",
	Long: `tabkeeperd connects to Chrome via the DevTools Protocol (through a
companion privileged extension) and runs the evaluation cycle: tabs age
from green to yellow to red to gone, groups sort into zones, and gone
entities are bookmarked then closed.

Example:
  # Connect to existing Chrome (must be started with --remote-debugging-port=9222)
  tabkeeperd

  # Auto-launch Chrome with debugging enabled
  tabkeeperd --launch

  # Load settings from a config file
  tabkeeperd --config ./tabkeeper.yaml`,
	RunE: run,
}

var configPath string

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "",
		"YAML config file (seeds first-run settings/bootstrap, optional)")

	rootCmd.Flags().StringVarP(&cfg.ChromePort, "port", "p", cfg.ChromePort,
		"Chrome remote debugging port")
	rootCmd.Flags().BoolVar(&cfg.AutoLaunch, "launch", cfg.AutoLaunch,
		"Auto-launch Chrome with debugging enabled")
	rootCmd.Flags().StringVar(&cfg.ExtensionHint, "extension-hint", cfg.ExtensionHint,
		"Substring identifying the companion extension's service worker target")

	rootCmd.Flags().StringVar(&cfg.KVPath, "kv-path", cfg.KVPath,
		"Path to the sqlite state database")
	rootCmd.Flags().StringVar(&cfg.TailLogPath, "log-path", cfg.TailLogPath,
		"Path to the append-only diagnostic log (empty disables it)")
	rootCmd.Flags().StringVar(&cfg.SettingsSeedPath, "settings-seed", cfg.SettingsSeedPath,
		"YAML settings file used to seed a fresh state database")

	rootCmd.Flags().BoolVar(&cfg.RedactBookmarkURLs, "redact", cfg.RedactBookmarkURLs,
		"Scrub sensitive query parameters from bookmarked URLs")
	rootCmd.Flags().Int64Var(&cfg.EvalAlarmPeriodMS, "eval-period-ms", cfg.EvalAlarmPeriodMS,
		"Period, in milliseconds, of the alarm-driven evaluation cycle")

	rootCmd.Version = config.Version
}

func run(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		loaded, err := config.LoadFromFile(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = *loaded
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c := core.New(cfg.ToCoreConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("tabkeeperd: received shutdown signal...")
		cancel()
	}()

	log.Printf("tabkeeperd %s", config.Version)
	log.Printf("chrome port: %s", cfg.ChromePort)
	if cfg.AutoLaunch {
		log.Println("auto-launching chrome...")
	} else {
		log.Println("connecting to existing chrome...")
	}

	if err := c.Start(ctx); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	log.Printf("tabkeeperd running, session %s", c.SessionID())

	<-ctx.Done()
	log.Println("tabkeeperd: shutting down...")

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	return c.Stop(stopCtx)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
