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

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Inspect and control plans",
}

var planListCmd = &cobra.Command{
	Use:   "list",
	Short: "List non-terminal plans",
	RunE:  runPlanList,
}

var planShowCmd = &cobra.Command{
	Use:   "show <plan-id>",
	Short: "Show a plan with its steps and recent log",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanShow,
}

var planPauseCmd = &cobra.Command{
	Use:   "pause <plan-id>",
	Short: "Pause a pending or active plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanPause,
}

var planResumeCmd = &cobra.Command{
	Use:   "resume <plan-id>",
	Short: "Resume a paused plan",
	Args:  cobra.ExactArgs(1),
	RunE:  runPlanResume,
}

func init() {
	planCmd.AddCommand(planListCmd, planShowCmd, planPauseCmd, planResumeCmd)
	rootCmd.AddCommand(planCmd)
}

func openStore() (*store.Store, context.Context, context.CancelFunc, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := store.Open(filepath.Join(cfg.DataDir, "kinara.db"), zerolog.Nop())
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	return st, ctx, cancel, nil
}

func runPlanList(cmd *cobra.Command, args []string) error {
	st, ctx, cancel, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	defer cancel()

	plans, err := st.PlansByStatus(ctx, store.PlanStatusActive, store.PlanStatusPending, store.PlanStatusPaused)
	if err != nil {
		return err
	}
	if len(plans) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no live plans")
		return nil
	}
	for _, p := range plans {
		fmt.Fprintf(cmd.OutOrStdout(), "%-36s  %-8s  prio %.2f  %d/%d steps  %s\n",
			p.ID, p.Status, p.Priority, p.CompletedSteps, p.TotalSteps, p.Name)
	}
	return nil
}

func runPlanShow(cmd *cobra.Command, args []string) error {
	st, ctx, cancel, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	defer cancel()

	plan, err := st.GetPlan(ctx, args[0])
	if err != nil {
		return err
	}
	steps, err := st.StepsForPlan(ctx, plan.ID)
	if err != nil {
		return err
	}
	log, err := st.LogForPlan(ctx, plan.ID, 10)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s (%s)\n%s\n\n", plan.Name, plan.Status, plan.Description)
	for _, s := range steps {
		fmt.Fprintf(out, "  %d. [%-9s] %-8s %s", s.Order, s.Status, s.Action, s.Name)
		if s.RetryCount > 0 {
			fmt.Fprintf(out, " (retries: %d)", s.RetryCount)
		}
		fmt.Fprintln(out)
	}
	if len(log) > 0 {
		fmt.Fprintln(out, "\nRecent attempts:")
		for _, e := range log {
			outcome := "ok"
			if !e.Success {
				outcome = "failed"
			}
			fmt.Fprintf(out, "  %s  %-8s %-6s %s\n",
				e.CreatedAt.Format("2006-01-02 15:04"), e.Action, outcome, e.Summary)
		}
	}
	return nil
}

func runPlanPause(cmd *cobra.Command, args []string) error {
	st, ctx, cancel, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	defer cancel()

	plan, err := st.GetPlan(ctx, args[0])
	if err != nil {
		return err
	}
	if plan.Status != store.PlanStatusPending && plan.Status != store.PlanStatusActive {
		return fmt.Errorf("cannot pause plan in status %s", plan.Status)
	}
	if err := st.UpdatePlanStatus(ctx, plan.ID, store.PlanStatusPaused); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "paused %s\n", plan.ID)
	return nil
}

func runPlanResume(cmd *cobra.Command, args []string) error {
	st, ctx, cancel, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()
	defer cancel()

	plan, err := st.GetPlan(ctx, args[0])
	if err != nil {
		return err
	}
	if plan.Status != store.PlanStatusPaused {
		return fmt.Errorf("cannot resume plan in status %s", plan.Status)
	}
	if err := st.UpdatePlanStatus(ctx, plan.ID, store.PlanStatusPending); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "resumed %s (queued for activation)\n", plan.ID)
	return nil
}
