package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunsCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Lists recent crawl runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			runs, err := st.ListRuns(cmd.Context(), limit)
			if err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			renderRuns(cmd.OutOrStdout(), runs)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to show")
	return cmd
}

func newResortsCmd() *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "resorts",
		Short: "Lists stored resorts ordered by URL",
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			st, err := openStore(cmd.Context(), e)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			resorts, err := st.ListResorts(cmd.Context(), limit, offset)
			if err != nil {
				return fmt.Errorf("list resorts: %w", err)
			}
			renderResorts(cmd.OutOrStdout(), resorts)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum resorts to show")
	cmd.Flags().IntVar(&offset, "offset", 0, "resorts to skip")
	return cmd
}
