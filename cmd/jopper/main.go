// Command jopper synchronizes Joplin notes into an Open WebUI knowledge base.
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jopper-sync/jopper/internal/config"
	"github.com/jopper-sync/jopper/internal/engine"
	"github.com/jopper-sync/jopper/internal/joplin"
	"github.com/jopper-sync/jopper/internal/logging"
	"github.com/jopper-sync/jopper/internal/openwebui"
	"github.com/jopper-sync/jopper/internal/state"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "jopper",
	Short: "One-way sync from Joplin notes to an Open WebUI knowledge base",
	Long: `Jopper mirrors Joplin notes into an Open WebUI knowledge base.

Notes are formatted as Markdown documents, uploaded to Open WebUI, and
tracked in a local SQLite state database so unchanged notes are skipped
and deleted notes are removed from the knowledge base.

Configuration is read from ~/.config/jopper/config.yaml (override with
--config or JOPPER_CONFIG_FILE) and JOPPER_* environment variables.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// app bundles the wired components shared by the subcommands.
type app struct {
	cfg    *config.Config
	logger *logrus.Logger
	store  *state.Store
	target *openwebui.Client
	engine *engine.Engine
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.logger.WithError(err).Warn("Error closing state database")
	}
}

// setup loads configuration and constructs the logger, state store, API
// clients, and engine. The caller must call close.
func setup() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger := logging.New(logging.Options{Verbose: verbose, File: cfg.LogFile})

	if cfg.StateDBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.StateDBPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create state directory: %w", err)
		}
	}

	store, err := state.Open(cfg.StateDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open state database: %w", err)
	}
	if err := store.InitSchema(context.Background()); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to initialize state schema: %w", err)
	}

	source := joplin.New(cfg.Joplin.URL(), cfg.Joplin.Token, logger)
	target := openwebui.New(cfg.OpenWebUI.URL, cfg.OpenWebUI.APIKey, cfg.OpenWebUI.CollectionID, logger)

	mode := engine.ModeAll
	if cfg.Sync.Mode == "tagged" {
		mode = engine.ModeTagged
	}

	eng, err := engine.New(source, target, store, engine.Config{
		Mode:        mode,
		Tags:        cfg.Sync.Tags,
		CallTimeout: cfg.Sync.CallTimeout,
		Parallelism: cfg.Sync.Parallelism,
		Logger:      logger,
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return &app{cfg: cfg, logger: logger, store: store, target: target, engine: eng}, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
