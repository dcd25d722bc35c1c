package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/ski-resort-crawler/internal/storage"
	"github.com/JakeFAU/ski-resort-crawler/internal/store"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Creates the record store schema",
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
			fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", e.cfg.Store.Driver)
			return nil
		},
	}
}

// openStore opens and migrates the configured record store.
func openStore(ctx context.Context, e *env) (store.RecordStore, error) {
	st, err := storage.Open(ctx, e.cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("migrate store: %w", err)
	}
	return st, nil
}
