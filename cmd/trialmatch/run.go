// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pdiddy/trialmatch/pkg/types"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Match a patient description against recruiting trials",
	Long: `Run reads a patient description from --patient (a file, or "-" for stdin)
and executes the full pipeline. Demographic flags override anything parsed
from the text. With --review the run stops at the review checkpoint and
prints its run id; finish it with "trialmatch resume".`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().String("patient", "", `patient description file ("-" reads stdin)`)
	runCmd.Flags().Int("age", 0, "patient age in years")
	runCmd.Flags().String("location", "", "patient location, e.g. \"Boston, MA\"")
	runCmd.Flags().String("sex", "", "patient sex: male or female")
	runCmd.Flags().Bool("review", false, "pause for clinician review before the report")
	runCmd.Flags().Int("max-trials", 0, "maximum candidate trials (0 = configured default)")
	runCmd.Flags().Bool("include-completed", false, "also search completed trials")
	runCmd.Flags().Int("max-literature", 0, "literature references per trial (0 = configured default)")
	runCmd.Flags().String("format", "markdown", "output format: json, yaml, markdown or html")
	_ = runCmd.MarkFlagRequired("patient")

	rootCmd.AddCommand(runCmd)
}

func readPatient(path string) (string, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("reading patient description: %w", err)
	}
	return string(data), nil
}

func runInputFromFlags(cmd *cobra.Command) (types.RunInput, error) {
	path, _ := cmd.Flags().GetString("patient")
	text, err := readPatient(path)
	if err != nil {
		return types.RunInput{}, err
	}
	age, _ := cmd.Flags().GetInt("age")
	location, _ := cmd.Flags().GetString("location")
	sex, _ := cmd.Flags().GetString("sex")
	requireReview, _ := cmd.Flags().GetBool("review")
	maxTrials, _ := cmd.Flags().GetInt("max-trials")
	includeCompleted, _ := cmd.Flags().GetBool("include-completed")
	maxLiterature, _ := cmd.Flags().GetInt("max-literature")

	in := types.RunInput{
		PatientText: text,
		Options: types.RunOptions{
			MaxTrials:        maxTrials,
			MaxLiterature:    maxLiterature,
			IncludeCompleted: includeCompleted,
			RequireReview:    requireReview,
		},
	}
	if age != 0 || location != "" || sex != "" {
		in.Demographics = &types.Demographics{Age: age, Location: location, Sex: sex}
	}
	return in, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	in, err := runInputFromFlags(cmd)
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.orch.Run(ctx, in)
	if err != nil {
		if res != nil {
			_ = writeResult(os.Stdout, res, "yaml")
		}
		return err
	}
	if res.Status == types.RunAwaitingReview {
		fmt.Fprintf(os.Stderr, "run %s is awaiting review; resume with: trialmatch resume %s --action approve\n", res.RunID, res.RunID)
	}
	return writeResult(os.Stdout, res, format)
}
