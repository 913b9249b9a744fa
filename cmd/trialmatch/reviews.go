// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pdiddy/trialmatch/internal/review"
	"github.com/pdiddy/trialmatch/internal/store"
)

var reviewsCmd = &cobra.Command{
	Use:   "reviews",
	Short: "List runs awaiting review",
	RunE:  runReviews,
}

var reviewsShowCmd = &cobra.Command{
	Use:   "show RUN_ID",
	Short: "Print a stored run",
	Args:  cobra.ExactArgs(1),
	RunE:  runReviewsShow,
}

var reviewsTokenCmd = &cobra.Command{
	Use:   "token REVIEWER",
	Short: "Issue a bearer token for the review server",
	Long: `Token signs an HS256 token for REVIEWER with the configured
review.jwt_secret (or the review-jwt-secret key file).`,
	Args: cobra.ExactArgs(1),
	RunE: runReviewsToken,
}

func init() {
	reviewsCmd.Flags().Bool("json", false, "output as JSON")
	reviewsShowCmd.Flags().String("format", "yaml", "output format: json or yaml")
	reviewsTokenCmd.Flags().Duration("ttl", 12*time.Hour, "token lifetime")

	reviewsCmd.AddCommand(reviewsShowCmd)
	reviewsCmd.AddCommand(reviewsTokenCmd)
	rootCmd.AddCommand(reviewsCmd)
}

func runReviews(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	pending, err := st.ListPending(ctx)
	if err != nil {
		return err
	}
	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		return store.Write(os.Stdout, pending, "json")
	}
	if len(pending) == 0 {
		fmt.Println("No runs awaiting review.")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RUN ID\tSUSPENDED\tWAITING")
	for _, p := range pending {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", p.RunID, p.UpdatedAt.Format(time.RFC3339), time.Since(p.UpdatedAt).Round(time.Second))
	}
	return tw.Flush()
}

func runReviewsShow(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer st.Close()

	state, err := st.Load(ctx, args[0])
	if err != nil {
		return err
	}
	format, _ := cmd.Flags().GetString("format")
	return store.Write(os.Stdout, state, format)
}

func runReviewsToken(cmd *cobra.Command, args []string) error {
	if cfg.Review.JWTSecret == "" {
		return fmt.Errorf("no review secret configured (set review.jwt_secret or .secrets/review-jwt-secret)")
	}
	ttl, _ := cmd.Flags().GetDuration("ttl")
	tok, err := review.IssueToken(cfg.Review.JWTSecret, args[0], ttl)
	if err != nil {
		return err
	}
	fmt.Println(tok)
	return nil
}
