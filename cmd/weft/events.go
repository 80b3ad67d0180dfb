package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/weft-dev/weft/internal/tui"
)

var eventsLimit int

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Show recent action events",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := tui.NewClient(apiAddr)
		events, err := client.ListEvents(eventsLimit)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			fmt.Println("no events")
			return nil
		}
		for _, ev := range events {
			line := fmt.Sprintf("%s  %-9s %s", ev.Timestamp, ev.Status, ev.Summary)
			if ev.Detail != "" {
				line += "  " + ev.Detail
			}
			fmt.Println(line)
		}
		return nil
	},
}

func init() {
	eventsCmd.Flags().IntVarP(&eventsLimit, "limit", "n", 50, "Maximum number of events to show")
}
