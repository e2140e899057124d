package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline health",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, status)
			}

			out := cmd.OutOrStdout()
			colorize := shouldColorize(out)

			for _, line := range renderSectionHeader("Daemon", colorize) {
				fmt.Fprintln(out, line)
			}
			runningKind := statusError
			if status.Running {
				runningKind = statusOK
			}
			fmt.Fprintln(out, renderStatusLine("Running", runningKind, yesNo(status.Running), colorize))
			fmt.Fprintln(out, renderStatusLine("PID", statusInfo, fmt.Sprintf("%d", status.PID), colorize))
			fmt.Fprintln(out, renderStatusLine("Database", statusInfo, status.JobDBPath, colorize))
			if status.Workflow.LastError != "" {
				fmt.Fprintln(out, renderStatusLine("Last error", statusWarn, status.Workflow.LastError, colorize))
			}

			for _, line := range renderSectionHeader("Queue", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, key := range []string{"pending", "processing", "completed", "failed", "cancelled"} {
				fmt.Fprintln(out, renderStatusLine(key, statusInfo,
					fmt.Sprintf("%d", status.Workflow.QueueStats[key]), colorize))
			}

			for _, line := range renderSectionHeader("Stages", colorize) {
				fmt.Fprintln(out, line)
			}
			for _, health := range status.Workflow.StageHealth {
				kind := statusOK
				if !health.Ready {
					kind = statusError
				}
				detail := health.Detail
				if health.Breaker != "" && health.Breaker != "closed" {
					kind = statusWarn
					detail = fmt.Sprintf("%s (breaker %s)", detail, health.Breaker)
				}
				fmt.Fprintln(out, renderStatusLine(health.Name, kind, detail, colorize))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit daemon status as JSON")
	return cmd
}

func yesNo(value bool) string {
	if value {
		return "yes"
	}
	return "no"
}
