package main

import (
	"bytes"
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/tsuiseki/client"
)

// writeWineCSV writes a small ';' separated file shaped like the UCI data.
func writeWineCSV(t *testing.T) string {
	t.Helper()
	rng := rand.New(rand.NewPCG(3, 5))
	var b strings.Builder
	b.WriteString(`"fixed acidity";"volatile acidity";"alcohol";"quality"` + "\n")
	for range 200 {
		fa, va, al := 7+rng.NormFloat64(), 0.5+0.1*rng.NormFloat64(), 10+rng.NormFloat64()
		q := 1.5 + 0.05*fa - 2*va + 0.4*al + 0.3*rng.NormFloat64()
		fmt.Fprintf(&b, "%.3f;%.3f;%.3f;%.3f\n", fa, va, al, q)
	}
	path := filepath.Join(t.TempDir(), "wine.csv")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))
	return path
}

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), out.String())
	return out.String()
}

func TestWineQualityPipeline(t *testing.T) {
	store := t.TempDir()
	data := writeWineCSV(t)
	common := []string{"--tracking-uri", store, "--data", data}

	out := execute(t, append([]string{"grid"}, common...)...)
	assert.Equal(t, 12, strings.Count(out, "rmse="))
	assert.Contains(t, out, "Parent run:")

	out = execute(t, append([]string{"train"}, common...)...)
	uri := regexp.MustCompile(`Model URI: (\S+)`).FindStringSubmatch(out)
	require.Len(t, uri, 2, out)
	assert.True(t, strings.HasPrefix(uri[1], "runs:/"))

	out = execute(t, append([]string{"register", "--stage", "production"}, common...)...)
	assert.Contains(t, out, "Registered wine-quality-model version 1")

	out = execute(t, append([]string{"predict", "models:/wine-quality-model/production", "--show", "3"}, common...)...)
	assert.Regexp(t, `\[[0-9.]+ [0-9.]+ [0-9.]+\]`, out)

	ctx := context.Background()
	c, err := client.New(ctx, store)
	require.NoError(t, err)
	defer func() { _ = c.Close() }()
	exp, err := c.GetExperimentByName(ctx, "wine-quality-local")
	require.NoError(t, err)
	infos, err := c.ListRunInfos(ctx, exp.ID)
	require.NoError(t, err)
	assert.Len(t, infos, 14)
}
