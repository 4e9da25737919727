package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/replydesk/replydesk/internal/config"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("🏷️ ReplyDesk Version")
		fmt.Printf("Version: %s\n", version)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status",
	Run: func(cmd *cobra.Command, args []string) {
		printHeader("📊 ReplyDesk Status")
		fmt.Printf("Version: %s\n", version)

		if configPath, err := config.ConfigPath(); err == nil {
			if _, statErr := os.Stat(configPath); statErr == nil {
				fmt.Println("Config:  ✓ Found (" + configPath + ")")
			} else {
				fmt.Println("Config:  ✗ Not found (" + configPath + ")")
			}
		}

		cfg, err := config.Load()
		if err != nil {
			fmt.Println("Status:  ? Unable to load config:", err)
			return
		}

		if cfg.Providers.Generation.APIKey != "" {
			fmt.Println("API Key: ✓ Found")
		} else {
			fmt.Println("API Key: ✗ Not found (set OPENAI_API_KEY)")
		}

		if cfg.Owner.ReviewerID != "" && cfg.Owner.ConversationID != "" {
			fmt.Printf("Owner:   ✓ %s via %s\n", cfg.Owner.ReviewerID, cfg.Owner.Channel)
		} else {
			fmt.Println("Owner:   ✗ Not configured (reviewer id and conversation required)")
		}

		channelStatus := func(name string, enabled bool) {
			if enabled {
				fmt.Printf("%-9s✓ Enabled\n", name+":")
			} else {
				fmt.Printf("%-9s✗ Disabled\n", name+":")
			}
		}
		channelStatus("Telegram", cfg.Channels.Telegram.Enabled)
		channelStatus("WhatsApp", cfg.Channels.WhatsApp.Enabled)
		channelStatus("Slack", cfg.Channels.Slack.Enabled)
		channelStatus("Kafka", cfg.Channels.Kafka.Enabled)

		if _, err := os.Stat(cfg.Journal.Path); err == nil {
			fmt.Println("Journal: ✓ Found (" + cfg.Journal.Path + ")")
		} else {
			fmt.Println("Journal: ✗ Will be created on first run")
		}

		fmt.Println("Status:  Ready")
	},
}
