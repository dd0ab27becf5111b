package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/tsuiseki/client"
	"github.com/ashita-ai/tsuiseki/internal/model"
)

var experimentsCmd = &cobra.Command{
	Use:     "experiments",
	Aliases: []string{"exp"},
	Short:   "Manage experiments",
}

var experimentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List experiments",
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, _ []string) error {
		viewFlag, _ := cmd.Flags().GetString("view")
		view, err := model.ParseViewType(viewFlag)
		if err != nil {
			return err
		}
		exps, err := c.ListExperiments(cmd.Context(), view)
		if err != nil {
			return err
		}
		rows := make([][]string, len(exps))
		for i, e := range exps {
			rows[i] = []string{e.ID, e.Name, string(e.LifecycleStage), formatTime(e.CreationTime), e.ArtifactLocation}
		}
		return printTable(cmd, exps, []string{"ID", "NAME", "STAGE", "CREATED", "ARTIFACTS"}, rows)
	}),
}

var experimentsCreateCmd = &cobra.Command{
	Use:   "create NAME",
	Short: "Create an experiment",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		exp, err := c.CreateExperiment(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return printJSON(cmd, exp)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "created experiment %s (%s)\n", exp.Name, exp.ID)
		return err
	}),
}

var experimentsDeleteCmd = &cobra.Command{
	Use:   "delete ID",
	Short: "Soft-delete an experiment and its runs",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		return c.DeleteExperiment(cmd.Context(), args[0])
	}),
}

var experimentsRestoreCmd = &cobra.Command{
	Use:   "restore ID",
	Short: "Restore a deleted experiment",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		return c.RestoreExperiment(cmd.Context(), args[0])
	}),
}

func init() {
	rootCmd.AddCommand(experimentsCmd)
	experimentsCmd.AddCommand(experimentsListCmd, experimentsCreateCmd, experimentsDeleteCmd, experimentsRestoreCmd)
	experimentsListCmd.Flags().String("view", "active", "active, deleted or all")
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}
