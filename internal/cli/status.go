package cli

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nadia/kinara/internal/config"
	"github.com/nadia/kinara/pkg/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show plan counts and recent activity",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	st, err := store.Open(filepath.Join(cfg.DataDir, "kinara.db"), zerolog.Nop())
	if err != nil {
		return err
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	summary, err := st.Summary(ctx, 5)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Plans: %d active, %d pending, %d paused, %d completed, %d failed\n",
		summary.Active, summary.Pending, summary.Paused, summary.Completed, summary.Failed)

	day := time.Now().Format("2006-01-02")
	used, err := st.DispatchCount(ctx, day)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Remote dispatches today: %d/%d\n", used, cfg.Dispatch.MaxRemoteDispatchesPerDay)

	if len(summary.RecentPlans) > 0 {
		fmt.Fprintln(out, "\nRecent plans:")
		for _, p := range summary.RecentPlans {
			fmt.Fprintf(out, "  %-36s  %-9s  %d/%d steps  %s\n",
				p.ID, p.Status, p.CompletedSteps, p.TotalSteps, p.Name)
		}
	}
	return nil
}
