package tsuiseki_test

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsuiseki"
	"github.com/ashita-ai/tsuiseki/client"
	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/testutil"
)

func startApp(t *testing.T, opts ...tsuiseki.Option) (string, func() error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	base := []tsuiseki.Option{
		tsuiseki.WithBackendStoreURI(t.TempDir()),
		tsuiseki.WithArtifactRoot(t.TempDir()),
		tsuiseki.WithLogger(testutil.TestLogger()),
		tsuiseki.WithVersion("test"),
	}
	app, err := tsuiseki.New(ctx, append(base, opts...)...)
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- app.Serve(ctx, ln) }()

	stop := func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			t.Fatal("app did not stop")
			return nil
		}
	}
	t.Cleanup(func() { _ = stop() })
	return "http://" + ln.Addr().String(), stop
}

func TestAppServesHealth(t *testing.T) {
	url, stop := startApp(t, tsuiseki.WithAPIKey(""))

	resp, err := http.Get(url + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var envelope struct {
		Data model.HealthResponse `json:"data"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&envelope))
	assert.Equal(t, "healthy", envelope.Data.Status)
	assert.Equal(t, "test", envelope.Data.Version)
	assert.Equal(t, "sqlite", envelope.Data.Dialect)

	require.NoError(t, stop())
}

func TestAppWithClient(t *testing.T) {
	url, _ := startApp(t, tsuiseki.WithAPIKey("app-test-key"))
	ctx := context.Background()

	c, err := client.New(ctx, url, client.WithAPIKey("app-test-key"))
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	exp, err := c.SetExperiment(ctx, "smoke")
	require.NoError(t, err)
	err = c.WithRun(ctx, client.RunOptions{Name: "smoke-run"}, func(ctx context.Context, _ *client.ActiveRun) error {
		return c.LogMetric(ctx, "loss", 0.25)
	})
	require.NoError(t, err)

	runs, err := c.CollectRuns(ctx, client.SearchQuery{
		ExperimentIDs: []string{exp.ID},
		Filter:        "metrics.loss < 1",
	})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "smoke-run", runs[0].Name)

	anon, err := client.New(ctx, url)
	require.NoError(t, err)
	_, err = anon.ListExperiments(ctx, client.ViewAll)
	assert.True(t, client.IsUnauthorized(err))
}
