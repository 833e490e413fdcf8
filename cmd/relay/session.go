package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var bindCmd = &cobra.Command{
	Use:   "bind <subtask-id> <session-id>",
	Short: "Bind a worker session to a sub-task",
	Long: `Record the session a manually spawned worker runs in and mark the
sub-task running. A sub-task can be bound only once.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sub, err := a.svc.Bind(args[0], args[1])
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(sub)
			}
			printStatus("✓", fmt.Sprintf("%s bound to %s (%s)", sub.ID, sub.SessionID, sub.Status), color.FgGreen)
			return nil
		})
	},
}

var abortReason string

var abortCmd = &cobra.Command{
	Use:   "abort <subtask-or-session-id>",
	Short: "Terminate a sub-task's session and mark it aborted",
	Long: `Terminate the worker session and mark the sub-task aborted. The progress
ledger is consulted first, so a worker that already reported completion keeps
its result. If termination fails the status is left unchanged.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			res, err := a.svc.Abort(cmd.Context(), args[0], abortReason)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(res)
			}
			if !res.Applied {
				printStatus("⚠", fmt.Sprintf("%s is already %s", res.SubTask.ID, res.SubTask.Status), color.FgYellow)
				return nil
			}
			printStatus("✓", fmt.Sprintf("%s aborted", res.SubTask.ID), color.FgGreen)
			return nil
		})
	},
}

var freezeReason string

var freezeCmd = &cobra.Command{
	Use:   "freeze <subtask-or-session-id>",
	Short: "Mark a running sub-task as stalled",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sub, err := a.svc.Freeze(args[0], freezeReason)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(sub)
			}
			printStatus("✓", fmt.Sprintf("%s frozen", sub.ID), color.FgYellow)
			return nil
		})
	},
}

var messageCmd = &cobra.Command{
	Use:   "message <subtask-or-session-id> <message...>",
	Short: "Send a message to a running worker",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.svc.InjectMessage(cmd.Context(), args[0], strings.Join(args[1:], " ")); err != nil {
				return err
			}
			printStatus("✓", "Message sent", color.FgGreen)
			return nil
		})
	},
}

var (
	historyTools bool
	historyLimit int
)

var historyCmd = &cobra.Command{
	Use:   "history <subtask-or-session-id>",
	Short: "Show a worker session's conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			entries, err := a.svc.History(cmd.Context(), args[0], historyTools, historyLimit)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(entries)
			}
			for _, e := range entries {
				ts := "-"
				if !e.Timestamp.IsZero() {
					ts = e.Timestamp.Local().Format(time.TimeOnly)
				}
				fmt.Printf("%s %s: %s\n", ts, color.New(color.Bold).Sprint(e.Role), e.Content)
			}
			return nil
		})
	},
}

var sessionEndDuration time.Duration

var sessionEndCmd = &cobra.Command{
	Use:   "session-end <session-id>",
	Short: "Report that a worker session ended",
	Long: `Notify relay that a session ended. Progress reported in the ledger is
applied first; a sub-task still unfinished afterwards is marked completed.

Hosts call this from their session lifecycle hook.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			sub, err := a.svc.OnSessionEnd(args[0], sessionEndDuration)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(sub)
			}
			fmt.Fprintf(os.Stdout, "%s %s\n", sub.ID, colorStatus(sub.Status))
			return nil
		})
	},
}

func init() {
	abortCmd.Flags().StringVar(&abortReason, "reason", "", "Reason recorded on the sub-task")
	freezeCmd.Flags().StringVar(&freezeReason, "reason", "", "Reason recorded on the sub-task")
	historyCmd.Flags().BoolVar(&historyTools, "tools", false, "Include tool messages")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 50, "Most recent entries to show (0 for all)")
	sessionEndCmd.Flags().DurationVar(&sessionEndDuration, "duration", 0, "How long the session ran")
}
