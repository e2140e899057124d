package main

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"slidereel/internal/api"
	"slidereel/internal/notifications"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "submit <presentation>",
		Short: "Upload a presentation and queue its conversion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.Submit(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, job)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Queued %s as job %s\n", job.SourceFilename, job.Token)
			if follow {
				return followJob(cmd, client, job.Token)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&follow, "watch", "w", false, "Follow progress until the job finishes")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the job snapshot as JSON")
	return cmd
}

func newJobsCommand(ctx *commandContext) *cobra.Command {
	var statuses []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List conversion jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			jobs, err := client.ListJobs(cmd.Context(), statuses)
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, jobs)
			}
			if len(jobs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No jobs.")
				return nil
			}

			rows := make([][]string, 0, len(jobs))
			for _, job := range jobs {
				rows = append(rows, []string{
					job.Token,
					job.SourceFilename,
					job.Status,
					job.CurrentStage,
					formatPercent(job.Progress),
					formatTimestamp(job.UpdatedAt),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"TOKEN", "FILE", "STATUS", "STAGE", "PROGRESS", "UPDATED"},
				rows,
				[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
			))
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Filter by job status (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit job snapshots as JSON")
	return cmd
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <token>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if jsonOut {
				return writeJSON(cmd, job)
			}
			printJobDetail(cmd, job)
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Emit the job snapshot as JSON")
	return cmd
}

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <token>",
		Short: "Follow a job's live progress stream",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			return followJob(cmd, client, args[0])
		},
	}
}

func newCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <token>",
		Short: "Request cancellation of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			result, err := client.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			switch result.Outcome {
			case api.CancelAccepted:
				fmt.Fprintln(cmd.OutOrStdout(), "Cancellation requested.")
			case api.CancelAlreadyTerminal:
				status := ""
				if result.Job != nil {
					status = result.Job.Status
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job is already %s; nothing to cancel.\n", status)
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "Cancel outcome: %s\n", result.Outcome)
			}
			return nil
		},
	}
}

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var artifact string
	var output string

	cmd := &cobra.Command{
		Use:   "download <token>",
		Short: "Download a completed job's video or thumbnail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.client()
			if err != nil {
				return err
			}
			job, err := client.GetJob(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			dest := strings.TrimSpace(output)
			if dest == "" {
				dest = defaultArtifactName(job.SourceFilename, artifact)
			}
			written, err := client.Download(cmd.Context(), args[0], artifact, dest)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes) to %s\n", artifact, written, dest)
			return nil
		},
	}
	cmd.Flags().StringVar(&artifact, "artifact", "video", "Artifact to fetch: video or thumbnail")
	cmd.Flags().StringVarP(&output, "output", "o", "", "Destination path (defaults next to the source name)")
	return cmd
}

func followJob(cmd *cobra.Command, client *daemonClient, token string) error {
	out := cmd.OutOrStdout()
	return client.Events(cmd.Context(), token, func(update notifications.Update) {
		stage := update.Stage
		if stage == "" {
			stage = "-"
		}
		fmt.Fprintf(out, "%s  %-12s %-14s %6s  %s\n",
			update.Timestamp.Local().Format("15:04:05"),
			stage,
			update.Status,
			formatPercent(update.Progress),
			update.Message)
	})
}

func printJobDetail(cmd *cobra.Command, job *api.JobSnapshot) {
	out := cmd.OutOrStdout()
	colorize := shouldColorize(out)
	for _, line := range renderSectionHeader("Job "+job.Token, colorize) {
		fmt.Fprintln(out, line)
	}

	kind := statusInfo
	switch job.Status {
	case "completed":
		kind = statusOK
	case "failed":
		kind = statusError
	case "cancelled":
		kind = statusWarn
	}
	fmt.Fprintln(out, renderStatusLine("Status", kind, job.Status, colorize))
	fmt.Fprintln(out, renderStatusLine("File", statusInfo, job.SourceFilename, colorize))
	fmt.Fprintln(out, renderStatusLine("Progress", statusInfo, formatPercent(job.Progress), colorize))
	if job.ErrorMessage != "" {
		fmt.Fprintln(out, renderStatusLine("Error", statusError, job.ErrorMessage, colorize))
	}

	if len(job.Stages) > 0 {
		names := make([]string, 0, len(job.Stages))
		for name := range job.Stages {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool { return stageRank(names[i]) < stageRank(names[j]) })

		rows := make([][]string, 0, len(names))
		for _, name := range names {
			record := job.Stages[name]
			rows = append(rows, []string{
				name,
				record.Status,
				formatPercent(record.Progress),
				fmt.Sprintf("%d", record.Attempts),
				record.Error,
			})
		}
		fmt.Fprintln(out, renderTable(
			[]string{"STAGE", "STATUS", "PROGRESS", "ATTEMPTS", "ERROR"},
			rows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft},
		))
	}

	if job.Result != nil {
		duration := time.Duration(job.Result.DurationSeconds * float64(time.Second)).Round(time.Second)
		fmt.Fprintln(out, renderStatusLine("Video", statusOK,
			fmt.Sprintf("%d slides, %s, %d bytes", job.Result.SlideCount, duration, job.Result.SizeBytes), colorize))
		if job.Result.SyntheticNarration > 0 {
			fmt.Fprintln(out, renderStatusLine("Narration", statusWarn,
				fmt.Sprintf("%d slide(s) fell back to silence", job.Result.SyntheticNarration), colorize))
		}
	}
}

func stageRank(name string) int {
	switch name {
	case "validate":
		return 0
	case "extract":
		return 1
	case "synthesize":
		return 2
	case "render":
		return 3
	default:
		return 4
	}
}

func defaultArtifactName(sourceFilename, artifact string) string {
	base := strings.TrimSuffix(filepath.Base(sourceFilename), filepath.Ext(sourceFilename))
	if base == "" || base == "." {
		base = "slidereel"
	}
	if artifact == "thumbnail" {
		return base + ".jpg"
	}
	return base + ".mp4"
}

func formatPercent(value float64) string {
	return fmt.Sprintf("%.0f%%", value)
}

func formatTimestamp(value string) string {
	if value == "" {
		return ""
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return value
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
