package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var opts reportOptions

	root := &cobra.Command{
		Use:           "storyctl",
		Short:         "Report story viewers and likes from the story monitor database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.account, "account", "", "account ID to report on (required)")
	root.PersistentFlags().BoolVar(&opts.json, "json", false, "output as JSON")
	_ = root.MarkPersistentFlagRequired("account")

	root.AddCommand(storiesCmd(&opts))
	root.AddCommand(viewersCmd(&opts))
	root.AddCommand(summaryCmd(&opts))
	return root
}

func storiesCmd(opts *reportOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "stories",
		Short: "List recent story days, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(r reports) error {
				return runStories(cmd.Context(), r, cmd.OutOrStdout(), *opts, limit)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 7, "max story days to show")
	return cmd
}

func viewersCmd(opts *reportOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "viewers",
		Short: "List top viewers by lifetime views",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(r reports) error {
				return runViewers(cmd.Context(), r, cmd.OutOrStdout(), *opts, limit)
			})
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 10, "max viewers to show")
	return cmd
}

func summaryCmd(opts *reportOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Short: "Show lifetime totals for the account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd.Context(), func(r reports) error {
				return runSummary(cmd.Context(), r, cmd.OutOrStdout(), *opts)
			})
		},
	}
}
