package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var predictCmd = &cobra.Command{
	Use:   "predict MODEL_URI",
	Short: "Load a logged or registered model and predict the first rows",
	Example: `  winequality predict runs:/d99535841ef24178bfcf8932dccd5011/models
  winequality predict models:/wine-quality-model/Production`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rows, _ := cmd.Flags().GetInt("rows")
		show, _ := cmd.Flags().GetInt("show")

		c, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		p, err := c.LoadModel(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		d, err := loadDataset(cmd)
		if err != nil {
			return err
		}
		preds, err := p.Predict(d.Head(rows).X)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), preds[:min(show, len(preds))])
		return err
	},
}

func init() {
	rootCmd.AddCommand(predictCmd)
	predictCmd.Flags().Int("rows", 100, "Rows of the dataset to score")
	predictCmd.Flags().Int("show", 10, "Predictions to print")
}
