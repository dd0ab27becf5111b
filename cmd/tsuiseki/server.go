package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/tsuiseki"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the tracking server",
	Long: `Serves the tracking and registry HTTP API and the MCP endpoint.
Configuration comes from TSUISEKI_* environment variables; flags override them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var opts []tsuiseki.Option
		opts = append(opts, tsuiseki.WithLogger(slog.Default()), tsuiseki.WithVersion(version))
		if cmd.Flags().Changed("port") {
			port, _ := cmd.Flags().GetInt("port")
			opts = append(opts, tsuiseki.WithPort(port))
		}
		if v, _ := cmd.Flags().GetString("backend-store-uri"); v != "" {
			opts = append(opts, tsuiseki.WithBackendStoreURI(v))
		}
		if v, _ := cmd.Flags().GetString("artifact-root"); v != "" {
			opts = append(opts, tsuiseki.WithArtifactRoot(v))
		}

		app, err := tsuiseki.New(cmd.Context(), opts...)
		if err != nil {
			return err
		}
		return app.Run(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.Flags().IntP("port", "p", 5000, "Port to listen on (TSUISEKI_PORT)")
	serverCmd.Flags().String("backend-store-uri", "", "Metadata store directory or postgres:// DSN (TSUISEKI_BACKEND_STORE_URI)")
	serverCmd.Flags().String("artifact-root", "", "Artifact root directory or file:// URI (TSUISEKI_ARTIFACT_ROOT)")
}
