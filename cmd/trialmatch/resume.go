// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/trialmatch/internal/review"
	"github.com/pdiddy/trialmatch/pkg/types"
)

var resumeCmd = &cobra.Command{
	Use:   "resume RUN_ID",
	Short: "Record a review decision and finish a suspended run",
	Long: `Resume loads a run awaiting review from the configured store, applies the
decision and, unless it rejects the run, generates the report.

A modify decision may exclude trials (--exclude NCT01234567) and override
statuses (--override NCT01234567=REQUIRES_REVIEW).`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().String("action", "approve", "decision: approve, modify or reject")
	resumeCmd.Flags().String("reviewer", os.Getenv("USER"), "reviewer name recorded on the run")
	resumeCmd.Flags().String("notes", "", "reviewer notes")
	resumeCmd.Flags().StringSlice("exclude", nil, "trial ids to drop (modify only)")
	resumeCmd.Flags().StringToString("override", nil, "trial id to status overrides (modify only)")
	resumeCmd.Flags().String("format", "markdown", "output format: json, yaml, markdown or html")

	rootCmd.AddCommand(resumeCmd)
}

func decisionFromFlags(cmd *cobra.Command) review.Decision {
	action, _ := cmd.Flags().GetString("action")
	reviewer, _ := cmd.Flags().GetString("reviewer")
	notes, _ := cmd.Flags().GetString("notes")
	exclude, _ := cmd.Flags().GetStringSlice("exclude")
	overrides, _ := cmd.Flags().GetStringToString("override")

	d := review.Decision{
		Action:        types.ReviewAction(action),
		Reviewer:      reviewer,
		Notes:         notes,
		ExcludeTrials: exclude,
	}
	if len(overrides) > 0 {
		d.StatusOverrides = make(map[string]types.EligibilityStatus, len(overrides))
		for id, st := range overrides {
			d.StatusOverrides[id] = types.EligibilityStatus(st)
		}
	}
	return d
}

func runResume(cmd *cobra.Command, args []string) error {
	format, _ := cmd.Flags().GetString("format")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.orch.Resume(ctx, args[0], decisionFromFlags(cmd))
	if err != nil {
		if res != nil {
			_ = writeResult(os.Stdout, res, "yaml")
		}
		return err
	}
	return writeResult(os.Stdout, res, format)
}
