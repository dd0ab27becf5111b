package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/tsuiseki/client"
	"github.com/ashita-ai/tsuiseki/linear"
)

var (
	alphaGrid   = []float64{0.2, 0.1, 0.05, 0.01}
	l1RatioGrid = []float64{0.2, 0.1, 0.05}
)

var gridCmd = &cobra.Command{
	Use:   "grid",
	Short: "Run the alpha x l1_ratio grid, one run per combination",
	Long: `Fits one model per (alpha, l1_ratio) pair and prints rmse and mae.
With --track each fit is recorded as a run; with --nested the runs are
children of one parent run.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		track, _ := cmd.Flags().GetBool("track")
		nested, _ := cmd.Flags().GetBool("nested")

		train, test, err := loadData(cmd)
		if err != nil {
			return err
		}
		if !track {
			return runGrid(ctx, cmd, nil, train, test)
		}

		c, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		exps, err := c.ListExperiments(ctx, client.ViewActiveOnly)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "Experiments: %d\n", len(exps))

		name, _ := cmd.Flags().GetString("experiment")
		if _, err := c.SetExperiment(ctx, name); err != nil {
			return err
		}
		if !nested {
			return runGrid(ctx, cmd, c, train, test)
		}
		return c.WithRun(ctx, client.RunOptions{Name: "grid-search"}, func(ctx context.Context, run *client.ActiveRun) error {
			_, _ = fmt.Fprintf(out, "Parent run: %s\n", run.ID())
			return runGrid(ctx, cmd, c, train, test)
		})
	},
}

func runGrid(ctx context.Context, cmd *cobra.Command, c *client.Client, train, test linear.Dataset) error {
	out := cmd.OutOrStdout()
	for _, alpha := range alphaGrid {
		for _, l1 := range l1RatioGrid {
			_, metrics, err := fitEval(train, test, alpha, l1)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "rmse=%.3f, mae=%.2f (alpha=%.2f, l1_ratio=%.2f)\n",
				metrics["rmse"], metrics["mae"], alpha, l1)
			if c == nil {
				continue
			}
			err = c.WithRun(ctx, client.RunOptions{Nested: true}, func(ctx context.Context, _ *client.ActiveRun) error {
				if err := c.LogParams(ctx, map[string]string{
					"alpha":    strconv.FormatFloat(alpha, 'g', -1, 64),
					"l1_ratio": strconv.FormatFloat(l1, 'g', -1, 64),
				}); err != nil {
					return err
				}
				return c.LogMetrics(ctx, map[string]float64{"rmse": metrics["rmse"], "mae": metrics["mae"]}, 0)
			})
			if err != nil {
				return err
			}
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(gridCmd)
	gridCmd.Flags().Bool("track", true, "Record each fit as a run")
	gridCmd.Flags().Bool("nested", true, "Group the runs under one parent run")
}
