// Package main is the entry point for the replydesk CLI.
package main

import (
	"os"

	"github.com/replydesk/replydesk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
