package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/svgtranslate/svgbatch/internal/db"
)

// newDBCmd creates the db command group
func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance and health",
	}
	cmd.AddCommand(newDBHealthCmd())
	cmd.AddCommand(newDBMigrateCmd())
	return cmd
}

func newDBHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check database connectivity and report pool stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			// One round trip through each pool proves connectivity
			// the way workers and operators will use it.
			for _, build := range []func() (*db.Pool, error){a.pools.Interactive, a.pools.Background} {
				pool, err := build()
				if err != nil {
					return err
				}
				conn, err := pool.Acquire(ctx)
				if err != nil {
					return fmt.Errorf("%s pool: %w", pool.Name(), err)
				}
				if err := conn.Close(); err != nil {
					return fmt.Errorf("%s pool release: %w", pool.Name(), err)
				}
			}

			stats := a.pools.Stats()
			if jsonOut {
				return json.NewEncoder(os.Stdout).Encode(stats)
			}

			fmt.Printf("Database: %s (%s) ok\n", a.cfg.Database.DSN, a.cfg.Database.Dialect)
			for _, st := range stats {
				fmt.Printf("Pool %-12s size=%d overflow=%d open=%d in_use=%d idle=%d\n",
					st.Name, st.Size, st.Overflow, st.Open, st.InUse, st.Idle)
			}
			return nil
		},
	}
}

func newDBMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			// newApp migrates as part of bootstrap; reaching this
			// point means the schema is current.
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Printf("Schema up to date for %s\n", a.cfg.Database.DSN)
			return nil
		},
	}
}
