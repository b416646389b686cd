package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jopper-sync/jopper/internal/config"
)

var configJSON bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	Long: `Print the configuration after merging defaults, the config file,
and JOPPER_* environment variables. Credentials are masked to their
last four characters.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := config.Load(configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		view := map[string]interface{}{
			"joplin": map[string]interface{}{
				"host":  cfg.Joplin.Host,
				"port":  cfg.Joplin.Port,
				"token": maskSecret(cfg.Joplin.Token),
			},
			"openwebui": map[string]interface{}{
				"url":                 cfg.OpenWebUI.URL,
				"api_key":             maskSecret(cfg.OpenWebUI.APIKey),
				"knowledge_base_name": cfg.OpenWebUI.KnowledgeBaseName,
				"collection_id":       cfg.OpenWebUI.CollectionID,
			},
			"sync": map[string]interface{}{
				"mode":             cfg.Sync.Mode,
				"tags":             cfg.Sync.Tags,
				"interval_minutes": int(cfg.Sync.Interval.Minutes()),
			},
			"state_db_path":  cfg.StateDBPath,
			"dashboard_addr": cfg.DashboardAddr,
			"log_file":       cfg.LogFile,
		}

		if configJSON {
			out, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(out))
			return
		}

		fmt.Println("Current configuration:")
		fmt.Println("\nJoplin:")
		fmt.Printf("   Host:  %s\n", cfg.Joplin.Host)
		fmt.Printf("   Port:  %d\n", cfg.Joplin.Port)
		fmt.Printf("   Token: %s\n", maskSecret(cfg.Joplin.Token))

		fmt.Println("\nOpen WebUI:")
		fmt.Printf("   URL:            %s\n", cfg.OpenWebUI.URL)
		fmt.Printf("   API key:        %s\n", maskSecret(cfg.OpenWebUI.APIKey))
		fmt.Printf("   Knowledge base: %s\n", cfg.OpenWebUI.KnowledgeBaseName)
		if cfg.OpenWebUI.CollectionID != "" {
			fmt.Printf("   Collection:     %s\n", cfg.OpenWebUI.CollectionID)
		}

		fmt.Println("\nSync:")
		fmt.Printf("   Mode:     %s\n", cfg.Sync.Mode)
		if len(cfg.Sync.Tags) > 0 {
			fmt.Printf("   Tags:     %s\n", strings.Join(cfg.Sync.Tags, ", "))
		} else {
			fmt.Printf("   Tags:     (none)\n")
		}
		fmt.Printf("   Interval: %s\n", cfg.Sync.Interval)

		fmt.Printf("\nState DB: %s\n", cfg.StateDBPath)
		if cfg.DashboardAddr != "" {
			fmt.Printf("Dashboard: %s\n", cfg.DashboardAddr)
		}
		if cfg.LogFile != "" {
			fmt.Printf("Log file: %s\n", cfg.LogFile)
		}
	},
}

// maskSecret keeps only the last four characters of a credential.
func maskSecret(s string) string {
	if s == "" {
		return "***"
	}
	if len(s) <= 4 {
		return "***"
	}
	return "***" + s[len(s)-4:]
}

func init() {
	configCmd.Flags().BoolVar(&configJSON, "json", false, "print as JSON")
	rootCmd.AddCommand(configCmd)
}
