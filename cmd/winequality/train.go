package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/tsuiseki/client"
)

var trainCmd = &cobra.Command{
	Use:   "train",
	Short: "Train the final model and log it with its params and metrics",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		alpha, _ := cmd.Flags().GetFloat64("alpha")
		l1, _ := cmd.Flags().GetFloat64("l1-ratio")
		artifactPath, _ := cmd.Flags().GetString("artifact-path")

		train, test, err := loadData(cmd)
		if err != nil {
			return err
		}
		c, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		name, _ := cmd.Flags().GetString("experiment")
		if _, err := c.SetExperiment(ctx, name); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		return c.WithRun(ctx, client.RunOptions{Name: "final-model"}, func(ctx context.Context, run *client.ActiveRun) error {
			m, metrics, err := fitEval(train, test, alpha, l1)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "final_rmse=%.3f, final_mae=%.2f, final_r2=%.2f (alpha=%.2f, l1_ratio=%.2f)\n",
				metrics["rmse"], metrics["mae"], metrics["r2"], alpha, l1)

			if err := c.LogParams(ctx, map[string]string{
				"alpha":    strconv.FormatFloat(alpha, 'g', -1, 64),
				"l1_ratio": strconv.FormatFloat(l1, 'g', -1, 64),
			}); err != nil {
				return err
			}
			if err := c.LogMetrics(ctx, metrics, 0); err != nil {
				return err
			}
			uri, err := c.LogModel(ctx, m, artifactPath)
			if err != nil {
				return err
			}
			root, err := c.GetArtifactURI(ctx, "")
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Run: %s\nModel URI: %s\nDefault artifacts URI: %s\n", run.ID(), uri, root)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(trainCmd)
	trainCmd.Flags().Float64("alpha", 0.01, "ElasticNet alpha")
	trainCmd.Flags().Float64("l1-ratio", 0.2, "ElasticNet l1_ratio")
	trainCmd.Flags().String("artifact-path", "models", "Artifact path the model is logged under")
}
