// Command tsuiseki runs the tracking server and inspects a tracking store
// from the command line.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/tsuiseki/client"
)

// version is set at build time via -ldflags.
var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "tsuiseki",
	Short:         "Experiment tracking and model registry",
	Long:          `tsuiseki records training runs and versions the models they produce.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().String("tracking-uri", os.Getenv("TSUISEKI_TRACKING_URI"),
		"Store directory, postgres:// DSN or http(s):// server URL (TSUISEKI_TRACKING_URI)")
	rootCmd.PersistentFlags().String("api-key", os.Getenv("TSUISEKI_API_KEY"),
		"API key for an authenticated tracking server (TSUISEKI_API_KEY)")
	rootCmd.PersistentFlags().Bool("json", false, "Print results as JSON")
	rootCmd.Version = version
}

func main() {
	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	level := slog.LevelInfo
	if os.Getenv("TSUISEKI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

// openClient builds a client from the persistent flags.
func openClient(cmd *cobra.Command) (*client.Client, error) {
	uri, _ := cmd.Flags().GetString("tracking-uri")
	key, _ := cmd.Flags().GetString("api-key")
	opts := []client.Option{client.WithLogger(slog.Default())}
	if key != "" {
		opts = append(opts, client.WithAPIKey(key))
	}
	return client.New(cmd.Context(), uri, opts...)
}

// withClient opens a client, runs fn and closes the client.
func withClient(fn func(cmd *cobra.Command, c *client.Client, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		c, err := openClient(cmd)
		if err != nil {
			return err
		}
		defer func() { _ = c.Close() }()
		return fn(cmd, c, args)
	}
}

func wantJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printTable writes header and rows as aligned columns, or v as JSON when
// --json is set.
func printTable(cmd *cobra.Command, v any, header []string, rows [][]string) error {
	if wantJSON(cmd) {
		return printJSON(cmd, v)
	}
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	writeRow(tw, header)
	for _, r := range rows {
		writeRow(tw, r)
	}
	return tw.Flush()
}

func writeRow(tw *tabwriter.Writer, cols []string) {
	for i, c := range cols {
		if i > 0 {
			_, _ = fmt.Fprint(tw, "\t")
		}
		_, _ = fmt.Fprint(tw, c)
	}
	_, _ = fmt.Fprintln(tw)
}
