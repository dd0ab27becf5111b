// Command winequality trains ElasticNet models on the UCI red-wine quality
// data and records them with tsuiseki: a tracked hyperparameter grid, a
// final model with artifacts, predictions from a logged or registered model,
// and registration of the newest run.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/ashita-ai/tsuiseki/client"
	"github.com/ashita-ai/tsuiseki/linear"
)

const defaultDataURL = "http://archive.ics.uci.edu/ml/machine-learning-databases/wine-quality/winequality-red.csv"

var rootCmd = &cobra.Command{
	Use:           "winequality",
	Short:         "Wine-quality regression tracked with tsuiseki",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	f := rootCmd.PersistentFlags()
	f.String("tracking-uri", os.Getenv("TSUISEKI_TRACKING_URI"), "Store directory, postgres:// DSN or server URL (TSUISEKI_TRACKING_URI)")
	f.String("api-key", os.Getenv("TSUISEKI_API_KEY"), "API key for an authenticated server (TSUISEKI_API_KEY)")
	f.String("experiment", "wine-quality-local", "Experiment name")
	f.String("data", defaultDataURL, "CSV path or http(s) URL, ';' separated")
	f.Uint64("seed", 314, "Train/test split seed")
}

func main() {
	_ = godotenv.Load()

	level := slog.LevelWarn
	if os.Getenv("TSUISEKI_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		cancel()
		os.Exit(1)
	}
}

func openClient(cmd *cobra.Command) (*client.Client, error) {
	uri, _ := cmd.Flags().GetString("tracking-uri")
	key, _ := cmd.Flags().GetString("api-key")
	opts := []client.Option{client.WithLogger(slog.Default())}
	if key != "" {
		opts = append(opts, client.WithAPIKey(key))
	}
	return client.New(cmd.Context(), uri, opts...)
}

// loadData reads the dataset named by --data and splits it 75/25.
func loadData(cmd *cobra.Command) (train, test linear.Dataset, err error) {
	d, err := loadDataset(cmd)
	if err != nil {
		return train, test, err
	}
	seed, _ := cmd.Flags().GetUint64("seed")
	return linear.TrainTestSplit(d, 0.25, seed)
}

func loadDataset(cmd *cobra.Command) (linear.Dataset, error) {
	src, _ := cmd.Flags().GetString("data")
	rc, err := openData(cmd.Context(), src)
	if err != nil {
		return linear.Dataset{}, err
	}
	defer func() { _ = rc.Close() }()

	d, err := linear.LoadCSV(rc, "quality", ';')
	if err != nil {
		return linear.Dataset{}, fmt.Errorf("read %s: %w", src, err)
	}
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Input dataset: (%d, %d)\n", d.Len(), len(d.Features)+1)
	return d, nil
}

func openData(ctx context.Context, src string) (io.ReadCloser, error) {
	if !strings.HasPrefix(src, "http://") && !strings.HasPrefix(src, "https://") {
		return os.Open(src)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", src, err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("fetch %s: %s", src, resp.Status)
	}
	return resp.Body, nil
}

// fitEval fits one model and returns it with its test-set metrics.
func fitEval(train, test linear.Dataset, alpha, l1Ratio float64) (*linear.ElasticNet, map[string]float64, error) {
	p := linear.DefaultParams()
	p.Alpha, p.L1Ratio = alpha, l1Ratio
	m, err := linear.New(p)
	if err != nil {
		return nil, nil, err
	}
	if err := m.Fit(train.X, train.Y); err != nil {
		return nil, nil, err
	}
	pred, err := m.Predict(test.X)
	if err != nil {
		return nil, nil, err
	}
	return m, map[string]float64{
		"rmse": linear.RMSE(test.Y, pred),
		"mae":  linear.MAE(test.Y, pred),
		"r2":   linear.R2(test.Y, pred),
	}, nil
}
