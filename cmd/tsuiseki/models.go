package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/tsuiseki/client"
	"github.com/ashita-ai/tsuiseki/internal/model"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage the model registry",
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered models",
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, _ []string) error {
		rms, err := c.ListRegisteredModels(cmd.Context())
		if err != nil {
			return err
		}
		rows := make([][]string, len(rms))
		for i, rm := range rms {
			rows[i] = []string{rm.Name, strconv.Itoa(rm.LatestVersion), formatTime(rm.LastUpdatedTime), rm.Description}
		}
		return printTable(cmd, rms, []string{"NAME", "LATEST", "UPDATED", "DESCRIPTION"}, rows)
	}),
}

var modelsRegisterCmd = &cobra.Command{
	Use:     "register MODEL_URI NAME",
	Short:   "Register a logged model as a new version",
	Example: `  tsuiseki models register runs:/3f2a.../model wine-quality`,
	Args:    cobra.ExactArgs(2),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		mv, err := c.RegisterModel(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return printJSON(cmd, mv)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "registered %s version %d (%s)\n", mv.Name, mv.Version, mv.ModelURI())
		return err
	}),
}

var modelsVersionsCmd = &cobra.Command{
	Use:   "versions NAME",
	Short: "List the versions of a registered model",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		stage, err := stageFlag(cmd)
		if err != nil {
			return err
		}
		mvs, err := c.ListModelVersions(cmd.Context(), args[0], stage)
		if err != nil {
			return err
		}
		return printVersions(cmd, mvs)
	}),
}

var modelsLatestCmd = &cobra.Command{
	Use:   "latest NAME",
	Short: "Show the latest version, optionally in one stage",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		stage, err := stageFlag(cmd)
		if err != nil {
			return err
		}
		mv, err := c.GetLatestVersion(cmd.Context(), args[0], stage)
		if err != nil {
			return err
		}
		return printVersions(cmd, []client.ModelVersion{mv})
	}),
}

var modelsTransitionCmd = &cobra.Command{
	Use:   "transition NAME VERSION STAGE",
	Short: "Move a version to None, Staging, Production or Archived",
	Args:  cobra.ExactArgs(3),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		version, err := parseVersion(args[1])
		if err != nil {
			return err
		}
		stage, err := model.ParseStage(args[2])
		if err != nil {
			return err
		}
		archive, _ := cmd.Flags().GetBool("archive-existing")
		mv, err := c.TransitionStage(cmd.Context(), args[0], version, stage, archive)
		if err != nil {
			return err
		}
		return printVersions(cmd, []client.ModelVersion{mv})
	}),
}

var modelsDeleteCmd = &cobra.Command{
	Use:   "delete NAME VERSION",
	Short: "Delete a model version",
	Args:  cobra.ExactArgs(2),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		version, err := parseVersion(args[1])
		if err != nil {
			return err
		}
		return c.DeleteModelVersion(cmd.Context(), args[0], version)
	}),
}

var modelsResolveCmd = &cobra.Command{
	Use:   "resolve URI",
	Short: "Resolve a models:/ or runs:/ URI to its run and artifact path",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		runID, path, err := c.ResolveModelURI(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		resp := model.ResolveModelURIResponse{RunID: runID, Path: path}
		if wantJSON(cmd) {
			return printJSON(cmd, resp)
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "runs:/%s/%s\n", resp.RunID, resp.Path)
		return err
	}),
}

func init() {
	rootCmd.AddCommand(modelsCmd)
	modelsCmd.AddCommand(modelsListCmd, modelsRegisterCmd, modelsVersionsCmd, modelsLatestCmd,
		modelsTransitionCmd, modelsDeleteCmd, modelsResolveCmd)
	modelsVersionsCmd.Flags().String("stage", "", "Only versions in this stage")
	modelsLatestCmd.Flags().String("stage", "", "Only versions in this stage")
	modelsTransitionCmd.Flags().Bool("archive-existing", false, "Archive other versions currently in the target stage")
}

func stageFlag(cmd *cobra.Command) (*client.Stage, error) {
	v, _ := cmd.Flags().GetString("stage")
	if v == "" {
		return nil, nil
	}
	s, err := model.ParseStage(v)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func parseVersion(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return 0, fmt.Errorf("version must be a positive integer, got %q", s)
	}
	return v, nil
}

func printVersions(cmd *cobra.Command, mvs []client.ModelVersion) error {
	rows := make([][]string, len(mvs))
	for i, mv := range mvs {
		rows[i] = []string{mv.Name, strconv.Itoa(mv.Version), string(mv.Stage), mv.RunID, mv.Source}
	}
	return printTable(cmd, mvs, []string{"NAME", "VERSION", "STAGE", "RUN ID", "SOURCE"}, rows)
}
