package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/tsuiseki/client"
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Register the model of the experiment's newest run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		name, _ := cmd.Flags().GetString("name")
		artifactPath, _ := cmd.Flags().GetString("artifact-path")
		stageFlag, _ := cmd.Flags().GetString("stage")

		c, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()

		expName, _ := cmd.Flags().GetString("experiment")
		exp, err := c.GetExperimentByName(ctx, expName)
		if err != nil {
			return err
		}
		infos, err := c.ListRunInfos(ctx, exp.ID)
		if err != nil {
			return err
		}
		if len(infos) == 0 {
			return fmt.Errorf("experiment %q has no runs", expName)
		}
		run := infos[0]

		out := cmd.OutOrStdout()
		for _, kv := range [][2]string{
			{"run_id", run.ID},
			{"run_name", run.Name},
			{"experiment_id", run.ExperimentID},
			{"status", string(run.Status)},
			{"start_time", formatTime(run.StartTime)},
			{"artifact_uri", run.ArtifactURI},
			{"lifecycle_stage", string(run.LifecycleStage)},
		} {
			_, _ = fmt.Fprintf(out, "%16s: %s\n", kv[0], kv[1])
		}

		mv, err := c.RegisterModel(ctx, fmt.Sprintf("runs:/%s/%s", run.ID, artifactPath), name)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(out, "Registered %s version %d\n", mv.Name, mv.Version)

		if stageFlag != "" {
			mv, err = c.TransitionStage(ctx, name, mv.Version, client.Stage(stageFlag), true)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Moved to %s: %s\n", mv.Stage, mv.ModelURI())
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
	registerCmd.Flags().String("name", "wine-quality-model", "Registered model name")
	registerCmd.Flags().String("artifact-path", "models", "Artifact path of the logged model")
	registerCmd.Flags().String("stage", "", "Optionally move the new version to this stage")
}

func formatTime(t time.Time) string {
	return t.Local().Format(time.DateTime)
}
