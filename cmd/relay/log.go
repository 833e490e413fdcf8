package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var logLimit int

var logCmd = &cobra.Command{
	Use:   "log",
	Short: "Show recent activity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			entries, err := a.activity.Tail(logLimit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(entries)
			}
			bold := color.New(color.Bold)
			for _, e := range entries {
				fmt.Printf("%s  %-18s", e.Timestamp.Local().Format(time.DateTime), bold.Sprint(string(e.Event)))
				if id := firstNonEmpty(e.SubTaskID, e.MainTaskID); id != "" {
					fmt.Printf(" %s", id)
				}
				if e.Status != "" {
					fmt.Printf(" -> %s", e.Status)
				}
				if e.Message != "" {
					fmt.Printf("  %s", e.Message)
				}
				fmt.Println()
			}
			return nil
		})
	},
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func init() {
	logCmd.Flags().IntVarP(&logLimit, "limit", "n", 30, "Number of entries to show (0 for all)")
}
