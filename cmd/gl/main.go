package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"goalline/internal/app"
	"goalline/internal/db"
	"goalline/internal/domain"
	"goalline/internal/engine"
	"goalline/internal/forecast"
	"goalline/internal/migrate"
	"goalline/internal/repo"
	"goalline/internal/rollup"
	"goalline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "gl",
	Short: "Goalline CLI",
	Long: `Goalline tracks sales and performance goals with history and forecasting.
Core concepts:
- Goals: revenue, deals, tasks, activities, or performance targets owned by a
  person, a team, or the whole company. Statuses go draft -> active ->
  completed (cancelled is an exit at any point).
- Progress: manual goals are adjusted by hand with a written justification;
  auto-calculated goals pull a fresh value from a signal source. Progress is
  always clamped between zero and the target.
- Hierarchy: goals roll up company -> team -> individual. Parent progress
  over children is computed at read time, never stored.
- History: every meaningful progress change is snapshotted, and every change
  of any kind lands in an append-only audit log.
- Forecast: linear velocity over the snapshot history classifies goals as
  ahead, on_track, behind, or at_risk and estimates a completion date.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("GOALLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
}

func registerCommands() {
	rootCmd.AddCommand(goalCmd())
	rootCmd.AddCommand(bulkCmd())
	rootCmd.AddCommand(notificationsCmd())
	rootCmd.AddCommand(rulesCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(analyticsCmd())
	rootCmd.AddCommand(serveCmd())
}

func goalCmd() *cobra.Command {
	goal := &cobra.Command{
		Use:   "goal",
		Short: "Manage goals",
	}
	goal.AddCommand(goalCreateCmd())
	goal.AddCommand(goalListCmd())
	goal.AddCommand(goalShowCmd())
	goal.AddCommand(goalUpdateCmd())
	goal.AddCommand(goalDeleteCmd())
	goal.AddCommand(goalAdjustCmd())
	goal.AddCommand(goalRecalculateCmd())
	goal.AddCommand(goalRecalculateAllCmd())
	goal.AddCommand(goalSetStatusCmd())
	goal.AddCommand(goalForecastCmd())
	goal.AddCommand(goalHistoryCmd())
	goal.AddCommand(goalAuditCmd())
	goal.AddCommand(goalTreeCmd())
	goal.AddCommand(goalLinkCmd())
	goal.AddCommand(goalUnlinkCmd())
	goal.AddCommand(goalCommentCmd())
	goal.AddCommand(goalSnapshotCmd())
	return goal
}

func goalCreateCmd() *cobra.Command {
	var opts engine.GoalCreateOptions
	var target float64
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ActorID = viper.GetString("actor-id")
			if cmd.Flags().Changed("target") {
				opts.TargetValue = &target
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.CreateGoal(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "goal id (optional, UUID if omitted)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Type, "type", "", "goal type (revenue, deals, tasks, activities, performance)")
	cmd.Flags().StringVar(&opts.OwnerType, "owner-type", "", "owner type (individual, team, company)")
	cmd.Flags().StringVar(&opts.OwnerID, "owner-id", "", "owner id")
	cmd.Flags().StringVar(&opts.Timeframe, "timeframe", "", "timeframe (this_week, this_month, this_quarter, this_year, custom)")
	cmd.Flags().StringVar(&opts.StartDate, "start", "", "start date (RFC3339)")
	cmd.Flags().StringVar(&opts.EndDate, "end", "", "end date (RFC3339)")
	cmd.Flags().Float64Var(&target, "target", 0, "target value")
	cmd.Flags().StringVar(&opts.CalculationSource, "source", "", "calculation source (manual, auto_calculated)")
	cmd.Flags().StringVar(&opts.ParentID, "parent", "", "parent goal id")
	cmd.Flags().Float64Var(&opts.Weight, "weight", 0, "contribution weight under the parent")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func goalListCmd() *cobra.Command {
	var f repo.GoalFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				goals, err := e.Repo.ListGoals(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(goals)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Type", "Status", "Progress", "Target", "Owner"})
				for _, g := range goals {
					target := ""
					if g.TargetValue != nil {
						target = fmt.Sprintf("%.2f", *g.TargetValue)
					}
					owner := g.OwnerType
					if g.OwnerID != nil {
						owner = fmt.Sprintf("%s:%s", g.OwnerType, *g.OwnerID)
					}
					tw.AppendRow(table.Row{g.ID, g.Name, g.Type, g.Status, fmt.Sprintf("%.2f", g.CurrentProgress), target, owner})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Type, "type", "", "type filter")
	cmd.Flags().StringVar(&f.OwnerType, "owner-type", "", "owner type filter")
	cmd.Flags().StringVar(&f.OwnerID, "owner-id", "", "owner id filter")
	cmd.Flags().StringVar(&f.Timeframe, "timeframe", "", "timeframe filter")
	cmd.Flags().StringVar(&f.CalculationSource, "source", "", "calculation source filter")
	cmd.Flags().StringVar(&f.ParentID, "parent", "", "parent goal id filter")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max results")
	return cmd
}

func goalShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.Repo.GetGoal(ctx, id)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	return cmd
}

func goalUpdateCmd() *cobra.Command {
	var name, description, goalType, timeframe, start, end, ownerType, ownerID string
	var target float64
	var clearTarget bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update goal fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			opts := engine.GoalUpdateOptions{
				ActorID:     viper.GetString("actor-id"),
				ClearTarget: clearTarget,
			}
			if cmd.Flags().Changed("name") {
				opts.Name = &name
			}
			if cmd.Flags().Changed("description") {
				opts.Description = &description
			}
			if cmd.Flags().Changed("type") {
				opts.Type = &goalType
			}
			if cmd.Flags().Changed("timeframe") {
				opts.Timeframe = &timeframe
			}
			if cmd.Flags().Changed("start") {
				opts.StartDate = &start
			}
			if cmd.Flags().Changed("end") {
				opts.EndDate = &end
			}
			if cmd.Flags().Changed("target") {
				opts.TargetValue = &target
			}
			if cmd.Flags().Changed("owner-type") {
				opts.OwnerType = &ownerType
			}
			if cmd.Flags().Changed("owner-id") {
				opts.OwnerID = &ownerID
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.UpdateGoal(ctx, id, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&goalType, "type", "", "goal type")
	cmd.Flags().StringVar(&timeframe, "timeframe", "", "timeframe")
	cmd.Flags().StringVar(&start, "start", "", "start date (RFC3339)")
	cmd.Flags().StringVar(&end, "end", "", "end date (RFC3339)")
	cmd.Flags().Float64Var(&target, "target", 0, "target value")
	cmd.Flags().BoolVar(&clearTarget, "clear-target", false, "remove the target value")
	cmd.Flags().StringVar(&ownerType, "owner-type", "", "owner type")
	cmd.Flags().StringVar(&ownerID, "owner-id", "", "owner id")
	return cmd
}

func goalDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.DeleteGoal(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func goalAdjustCmd() *cobra.Command {
	var value float64
	var justification string
	cmd := &cobra.Command{
		Use:   "adjust <id>",
		Short: "Manually adjust progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.ManualAdjust(ctx, id, value, justification, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().Float64Var(&value, "value", 0, "new progress value")
	cmd.Flags().StringVar(&justification, "justification", "", "why the progress changed")
	_ = cmd.MarkFlagRequired("value")
	_ = cmd.MarkFlagRequired("justification")
	return cmd
}

func goalRecalculateCmd() *cobra.Command {
	var value float64
	cmd := &cobra.Command{
		Use:   "recalculate <id>",
		Short: "Recalculate an auto-calculated goal from a signal value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				e.Signal = func(context.Context, domain.Goal) (float64, error) {
					return value, nil
				}
				g, err := e.Recalculate(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().Float64Var(&value, "value", 0, "fresh progress value from the signal source")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func goalRecalculateAllCmd() *cobra.Command {
	var value float64
	cmd := &cobra.Command{
		Use:   "recalculate-all",
		Short: "Recalculate every auto-calculated goal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if cmd.Flags().Changed("value") {
					e.Signal = func(context.Context, domain.Goal) (float64, error) {
						return value, nil
					}
				}
				res, err := e.RecalculateAll(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().Float64Var(&value, "value", 0, "fixed signal value for every goal")
	return cmd
}

func goalSetStatusCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "set-status <id>",
		Short: "Change goal status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.ChangeStatus(ctx, id, status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(g)
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "new status (draft, active, completed, cancelled)")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func goalForecastCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "forecast <id>",
		Short: "Forecast goal completion",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				g, err := e.Repo.GetGoal(ctx, id)
				if err != nil {
					return err
				}
				snapshots, err := e.Repo.ListSnapshots(ctx, repo.SnapshotFilters{GoalID: g.ID})
				if err != nil {
					return err
				}
				res := forecast.Compute(g, snapshots, e.Rules, time.Now().UTC())
				if viper.GetBool("json") {
					return printJSON(res)
				}
				fmt.Printf("Goal: %s (%s)\n", g.Name, g.ID)
				fmt.Printf("Status: %s (confidence %s, %d snapshots)\n", res.Status, res.ConfidenceLevel, res.SnapshotCount)
				fmt.Printf("Progress: %.2f%%\n", res.CurrentPercentage)
				if res.DailyVelocity != nil {
					fmt.Printf("Velocity: %.2f/day (%.2f/week), required %.2f/day\n",
						*res.DailyVelocity, *res.WeeklyVelocity, floatValue(res.RequiredDailyVelocity))
				}
				if res.EstimatedCompletionDate != nil {
					fmt.Printf("Estimated completion: %s\n", *res.EstimatedCompletionDate)
				}
				return nil
			})
		},
	}
	return cmd
}

func goalHistoryCmd() *cobra.Command {
	var f repo.SnapshotFilters
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "Show progress history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.GoalID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSnapshots(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"At", "Value", "Pct", "Source", "By"})
				for _, s := range items {
					tw.AppendRow(table.Row{s.RecordedAt, fmt.Sprintf("%.2f", s.Value), fmt.Sprintf("%.2f", s.Percentage), s.Source, s.RecordedBy})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Source, "source", "", "snapshot source filter")
	cmd.Flags().StringVar(&f.Since, "since", "", "earliest recorded_at (RFC3339)")
	cmd.Flags().StringVar(&f.Until, "until", "", "latest recorded_at (RFC3339)")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max entries")
	return cmd
}

func goalAuditCmd() *cobra.Command {
	var f repo.AuditFilters
	cmd := &cobra.Command{
		Use:   "audit <id>",
		Short: "Show the audit trail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f.GoalID = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListAuditEntries(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"TS", "Event", "Actor", "Summary"})
				for _, a := range items {
					tw.AppendRow(table.Row{a.TS, a.EventType, a.ActorID, a.Summary})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.EventType, "event-type", "", "event type filter")
	cmd.Flags().StringVar(&f.ActorID, "actor", "", "actor filter")
	cmd.Flags().Int64Var(&f.AfterID, "after-id", 0, "entries after this id")
	cmd.Flags().IntVar(&f.Limit, "limit", 0, "max entries")
	return cmd
}

func goalTreeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tree",
		Short: "Show the goal hierarchy",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				goals, err := e.Repo.ListGoals(ctx, repo.GoalFilters{})
				if err != nil {
					return err
				}
				links, err := e.Repo.AllLinks(ctx)
				if err != nil {
					return err
				}
				tree := rollup.BuildTree(goals, links)
				if viper.GetBool("json") {
					return printJSON(tree)
				}
				for i, n := range tree {
					printGoalTree(n, "", i == len(tree)-1)
				}
				return nil
			})
		},
	}
	return cmd
}

func goalLinkCmd() *cobra.Command {
	var parent string
	var weight float64
	cmd := &cobra.Command{
		Use:   "link <id>",
		Short: "Attach goal under a parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				link, err := e.Attach(ctx, id, parent, weight, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(link)
			})
		},
	}
	cmd.Flags().StringVar(&parent, "parent", "", "parent goal id")
	cmd.Flags().Float64Var(&weight, "weight", 0, "contribution weight (defaults to 1.0)")
	_ = cmd.MarkFlagRequired("parent")
	return cmd
}

func goalUnlinkCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unlink <id>",
		Short: "Detach goal from its parent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Detach(ctx, id, viper.GetString("actor-id"))
			})
		},
	}
	return cmd
}

func goalCommentCmd() *cobra.Command {
	var body string
	var list bool
	cmd := &cobra.Command{
		Use:   "comment <id>",
		Short: "Add or list comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if list {
					items, err := e.Repo.ListComments(ctx, id)
					if err != nil {
						return err
					}
					return printJSONOrTable(items)
				}
				if strings.TrimSpace(body) == "" {
					return fmt.Errorf("--body required")
				}
				c, err := e.AddComment(ctx, id, body, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "comment text")
	cmd.Flags().BoolVar(&list, "list", false, "list comments instead of adding one")
	return cmd
}

func goalSnapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot <id>",
		Short: "Record a daily progress snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.RecordSnapshot(ctx, id, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	return cmd
}

func bulkCmd() *cobra.Command {
	bulk := &cobra.Command{
		Use:   "bulk",
		Short: "Bulk goal operations",
	}
	bulk.AddCommand(bulkDeleteCmd())
	bulk.AddCommand(bulkStatusCmd())
	return bulk
}

func bulkDeleteCmd() *cobra.Command {
	var ids []string
	var confirm bool
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete up to the configured maximum of goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirm {
				return fmt.Errorf("--confirm required for bulk delete")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.BulkDelete(ctx, ids, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringArrayVar(&ids, "id", []string{}, "goal id (repeatable)")
	cmd.Flags().BoolVar(&confirm, "confirm", false, "confirm the deletion")
	return cmd
}

func bulkStatusCmd() *cobra.Command {
	var ids []string
	var status string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Change status on a set of goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.BulkStatusChange(ctx, ids, status, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.Flags().StringArrayVar(&ids, "id", []string{}, "goal id (repeatable)")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	_ = cmd.MarkFlagRequired("status")
	return cmd
}

func notificationsCmd() *cobra.Command {
	n := &cobra.Command{
		Use:   "notifications",
		Short: "Goal notifications",
	}
	n.AddCommand(notificationsListCmd())
	n.AddCommand(notificationsSweepCmd())
	return n
}

func notificationsListCmd() *cobra.Command {
	var goalID string
	var unsent bool
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notifications",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListNotifications(ctx, goalID, unsent, limit)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
	cmd.Flags().StringVar(&goalID, "goal", "", "goal id filter")
	cmd.Flags().BoolVar(&unsent, "unsent", false, "only undelivered notifications")
	cmd.Flags().IntVar(&limit, "limit", 0, "max entries")
	return cmd
}

func notificationsSweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Evaluate at-risk and overdue alerts for all active goals",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.SweepAlerts(ctx, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"created": n})
				}
				fmt.Printf("Created %d alert notifications\n", n)
				return nil
			})
		},
	}
	return cmd
}

func rulesCmd() *cobra.Command {
	rules := &cobra.Command{
		Use:   "rules",
		Short: "Inspect the active rule set",
		Long:  "Rules are the knobs (stored in DB, overridable via goalline.yml): justification length, significant-change threshold, forecast factors, hierarchy depth, bulk caps, and milestone thresholds.",
	}
	rules.AddCommand(rulesShowCmd())
	rules.AddCommand(rulesImportCmd())
	rules.AddCommand(rulesValidateCmd())
	return rules
}

func rulesShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the active rule set",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Rules)
			})
		},
	}
	return cmd
}

func rulesImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import a rule set from YAML into the DB",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				rules, err := app.ImportRules(ctx, filePath, r)
				if err != nil {
					return err
				}
				return printJSONOrTable(rules)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML rule set")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func rulesValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the active rule set",
		RunE: func(cmd *cobra.Command, args []string) error {
			err := withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return e.Rules.Validate()
			})
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("rules OK")
			return nil
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Manage API keys",
	}
	cmd.AddCommand(apikeyCreateCmd())
	cmd.AddCommand(apikeyListCmd())
	cmd.AddCommand(apikeyRevokeCmd())
	return cmd
}

func apikeyCreateCmd() *cobra.Command {
	var name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an API key for the current actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				raw := uuid.NewString()
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: viper.GetString("actor-id"),
					Name:    name,
					KeyHash: repo.HashAPIKey(raw),
				}
				if err := r.InsertAPIKey(ctx, key); err != nil {
					return err
				}
				// The raw key is shown once and never stored.
				return printJSONOrTable(map[string]any{"id": key.ID, "key": raw})
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	var actor string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
	cmd.Flags().StringVar(&actor, "actor", "", "actor filter")
	return cmd
}

func apikeyRevokeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show goal counts by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				counts, err := e.Repo.CountGoalsByStatus(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(counts)
				}
				total := 0
				fmt.Println("Goals:")
				for _, c := range counts {
					fmt.Printf("  %s: %d\n", c.Status, c.Count)
					total += c.Count
				}
				fmt.Printf("  total: %d\n", total)
				return nil
			})
		},
	}
	return cmd
}

func analyticsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "analytics",
		Short: "Show completion rate and progress metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				a, err := e.Analytics(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(a)
				}
				fmt.Printf("Goals: %d total, %d completed, %d active, %d cancelled\n",
					a.TotalGoals, a.CompletedGoals, a.ActiveGoals, a.CancelledGoals)
				fmt.Printf("Completion rate: %.1f%%\n", a.CompletionRate)
				fmt.Printf("Average progress: %.1f%%\n", a.AverageProgressPct)
				for _, c := range a.ByType {
					fmt.Printf("  %s: %d\n", c.Type, c.Count)
				}
				return nil
			})
		},
	}
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			r := repo.Repo{DB: conn}
			rules, err := app.ResolveRules(cmd.Context(), workspace, r)
			if err != nil {
				return err
			}
			e := engine.New(conn, rules)
			authCfg := server.AuthConfig{JWTSecret: os.Getenv("GOALLINE_JWT_SECRET")}
			if authCfg.JWTSecret == "" {
				return fmt.Errorf("GOALLINE_JWT_SECRET is required for bearer auth")
			}
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
			if err != nil {
				return err
			}
			server.StartNotificationDispatcher(e)
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Goalline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		workspace := viper.GetString("workspace")
		rules, err := app.ResolveRules(ctx, workspace, r)
		if err != nil {
			return err
		}
		e := engine.New(r.DB, rules)
		return fn(ctx, e)
	})
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printGoalTree(n *rollup.Node, prefix string, last bool) {
	connector := "├── "
	newPrefix := prefix + "│   "
	if last {
		connector = "└── "
		newPrefix = prefix + "    "
	}
	fmt.Printf("%s%s%s [%s] %.2f%%\n", prefix, connector, n.Goal.Name, n.Goal.Status, n.Goal.ProgressPercentage())
	for i, c := range n.Children {
		printGoalTree(c, newPrefix, i == len(n.Children)-1)
	}
}

func floatValue(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
