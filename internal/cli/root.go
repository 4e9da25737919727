// Package cli implements the replydesk command line interface.
package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// version can be overridden at build time via:
	// go build -ldflags "-X github.com/replydesk/replydesk/internal/cli.version=1.2.3"
	version = "0.4.1"
	logo    = "\n" +
		"  ____            _       ____            _\n" +
		" |  _ \\ ___ _ __ | |_   _|  _ \\  ___  ___| | __\n" +
		" | |_) / _ \\ '_ \\| | | | | | | |/ _ \\/ __| |/ /\n" +
		" |  _ <  __/ |_) | | |_| | |_| |  __/\\__ \\   <\n" +
		" |_| \\_\\___| .__/|_|\\__, |____/ \\___||___/_|\\_\\\n" +
		"           |_|      |___/\n"
)

var rootCmd = &cobra.Command{
	Use:   "replydesk",
	Short: "ReplyDesk - Confidence-routed reply assistant",
	Long:  color.CyanString(logo) + "\nDrafts replies to business chats, auto-sends the confident ones\nand routes the rest to you for review.",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
}

func printHeader(title string) {
	fmt.Println(color.CyanString(logo))
	if title != "" {
		fmt.Println(title)
		fmt.Println("─────────────────────")
	}
}
