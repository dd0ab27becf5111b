package main

import (
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/tsuiseki/client"
)

var artifactsCmd = &cobra.Command{
	Use:   "artifacts",
	Short: "Browse and download run artifacts",
}

var artifactsListCmd = &cobra.Command{
	Use:   "list RUN_ID [PATH]",
	Short: "List the artifacts of a run",
	Args:  cobra.RangeArgs(1, 2),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		var dir string
		if len(args) == 2 {
			dir = args[1]
		}
		infos, err := c.ListArtifacts(cmd.Context(), args[0], dir)
		if err != nil {
			return err
		}
		rows := make([][]string, len(infos))
		for i, fi := range infos {
			size := "-"
			if !fi.IsDir {
				size = strconv.FormatInt(fi.FileSize, 10)
			}
			path := fi.Path
			if fi.IsDir {
				path += "/"
			}
			rows[i] = []string{path, size}
		}
		return printTable(cmd, infos, []string{"PATH", "SIZE"}, rows)
	}),
}

var artifactsGetCmd = &cobra.Command{
	Use:   "get RUN_ID PATH",
	Short: "Write an artifact file to stdout or --output",
	Args:  cobra.ExactArgs(2),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		rc, err := c.OpenArtifact(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		defer func() { _ = rc.Close() }()

		var w io.Writer = cmd.OutOrStdout()
		if out, _ := cmd.Flags().GetString("output"); out != "" {
			f, err := os.Create(out)
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			w = f
		}
		_, err = io.Copy(w, rc)
		return err
	}),
}

var artifactsUploadCmd = &cobra.Command{
	Use:   "upload RUN_ID LOCAL_PATH [ARTIFACT_PATH]",
	Short: "Upload a file or directory into a running run",
	Args:  cobra.RangeArgs(2, 3),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		var dest string
		if len(args) == 3 {
			dest = args[2]
		}
		return c.LogArtifactTo(cmd.Context(), args[0], args[1], dest)
	}),
}

func init() {
	rootCmd.AddCommand(artifactsCmd)
	artifactsCmd.AddCommand(artifactsListCmd, artifactsGetCmd, artifactsUploadCmd)
	artifactsGetCmd.Flags().StringP("output", "o", "", "Write to this file instead of stdout")
}
