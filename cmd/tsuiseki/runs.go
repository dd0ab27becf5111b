package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/ashita-ai/tsuiseki/client"
	"github.com/ashita-ai/tsuiseki/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Inspect runs",
}

var runsListCmd = &cobra.Command{
	Use:   "list EXPERIMENT",
	Short: "List the runs of an experiment (by ID or name)",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		expID, err := resolveExperiment(cmd, c, args[0])
		if err != nil {
			return err
		}
		infos, err := c.ListRunInfos(cmd.Context(), expID)
		if err != nil {
			return err
		}
		rows := make([][]string, len(infos))
		for i, r := range infos {
			parent := "-"
			if r.ParentRunID != nil {
				parent = *r.ParentRunID
			}
			rows[i] = []string{r.ID, r.Name, string(r.Status), parent, formatTime(r.StartTime)}
		}
		return printTable(cmd, infos, []string{"RUN ID", "NAME", "STATUS", "PARENT", "STARTED"}, rows)
	}),
}

var runsGetCmd = &cobra.Command{
	Use:   "get RUN_ID",
	Short: "Show a run with its params, metrics and tags",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		run, err := c.GetRun(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if wantJSON(cmd) {
			return printJSON(cmd, run)
		}
		return describeRun(cmd.OutOrStdout(), run)
	}),
}

var runsSearchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search runs by params, metrics and tags",
	Example: `  tsuiseki runs search -e wine-quality --filter "metrics.rmse < 0.7" --order-by metrics.rmse
  tsuiseki runs search -e 1 -e 2 --filter "params.alpha = '0.1'"`,
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, _ []string) error {
		exps, _ := cmd.Flags().GetStringSlice("experiment")
		if len(exps) == 0 {
			return fmt.Errorf("at least one --experiment is required")
		}
		ids := make([]string, 0, len(exps))
		for _, e := range exps {
			id, err := resolveExperiment(cmd, c, e)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		filter, _ := cmd.Flags().GetString("filter")
		orderBy, _ := cmd.Flags().GetStringSlice("order-by")
		viewFlag, _ := cmd.Flags().GetString("view")
		view, err := model.ParseViewType(viewFlag)
		if err != nil {
			return err
		}
		limit, _ := cmd.Flags().GetInt("limit")

		var (
			runs []client.Run
			rows [][]string
		)
		metricKeys, _ := cmd.Flags().GetStringSlice("metric")
		for r, err := range c.SearchRuns(cmd.Context(), client.SearchQuery{
			ExperimentIDs: ids,
			Filter:        filter,
			OrderBy:       orderBy,
			ViewType:      view,
		}) {
			if err != nil {
				return err
			}
			runs = append(runs, r)
			row := []string{r.ID, r.Name, string(r.Status)}
			for _, k := range metricKeys {
				row = append(row, metricValue(r, k))
			}
			rows = append(rows, row)
			if limit > 0 && len(runs) >= limit {
				break
			}
		}
		header := []string{"RUN ID", "NAME", "STATUS"}
		for _, k := range metricKeys {
			header = append(header, k)
		}
		return printTable(cmd, runs, header, rows)
	}),
}

var runsHistoryCmd = &cobra.Command{
	Use:   "history RUN_ID METRIC",
	Short: "Show every logged value of a metric",
	Args:  cobra.ExactArgs(2),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		hist, err := c.GetMetricHistory(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		rows := make([][]string, len(hist))
		for i, m := range hist {
			rows[i] = []string{strconv.FormatInt(m.Step, 10), strconv.FormatFloat(m.Value, 'g', -1, 64), formatTime(m.Timestamp)}
		}
		return printTable(cmd, hist, []string{"STEP", "VALUE", "TIMESTAMP"}, rows)
	}),
}

var runsDeleteCmd = &cobra.Command{
	Use:   "delete RUN_ID",
	Short: "Soft-delete a run",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		return c.DeleteRun(cmd.Context(), args[0])
	}),
}

var runsRestoreCmd = &cobra.Command{
	Use:   "restore RUN_ID",
	Short: "Restore a deleted run",
	Args:  cobra.ExactArgs(1),
	RunE: withClient(func(cmd *cobra.Command, c *client.Client, args []string) error {
		return c.RestoreRun(cmd.Context(), args[0])
	}),
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.AddCommand(runsListCmd, runsGetCmd, runsSearchCmd, runsHistoryCmd, runsDeleteCmd, runsRestoreCmd)

	f := runsSearchCmd.Flags()
	f.StringSliceP("experiment", "e", nil, "Experiment ID or name (repeatable)")
	f.String("filter", "", `Filter expression, e.g. "metrics.rmse < 0.7 and params.alpha = '0.1'"`)
	f.StringSlice("order-by", nil, `Ordering, e.g. "metrics.rmse" or "start_time DESC"`)
	f.StringSlice("metric", nil, "Metric columns to print")
	f.String("view", "active", "active, deleted or all")
	f.Int("limit", 0, "Stop after this many runs (0 = all)")
}

// resolveExperiment accepts an experiment ID or name.
func resolveExperiment(cmd *cobra.Command, c *client.Client, ref string) (string, error) {
	exp, err := c.GetExperimentByName(cmd.Context(), ref)
	if err == nil {
		return exp.ID, nil
	}
	if _, idErr := c.GetExperiment(cmd.Context(), ref); idErr == nil {
		return ref, nil
	}
	return "", err
}

func metricValue(r client.Run, key string) string {
	m, ok := r.Metrics[key]
	if !ok {
		return "-"
	}
	return strconv.FormatFloat(m.Value, 'g', 6, 64)
}

func describeRun(w io.Writer, r client.Run) error {
	p := func(format string, args ...any) { _, _ = fmt.Fprintf(w, format, args...) }
	p("run:         %s\n", r.ID)
	p("name:        %s\n", r.Name)
	p("experiment:  %s\n", r.ExperimentID)
	p("status:      %s\n", r.Status)
	p("started:     %s\n", formatTime(r.StartTime))
	if r.EndTime != nil {
		p("ended:       %s\n", formatTime(*r.EndTime))
	}
	if r.ParentRunID != nil {
		p("parent:      %s\n", *r.ParentRunID)
	}
	p("artifacts:   %s\n", r.ArtifactURI)

	section := func(title string, m map[string]string) {
		if len(m) == 0 {
			return
		}
		p("%s:\n", title)
		for _, k := range slices.Sorted(maps.Keys(m)) {
			p("  %s = %s\n", k, m[k])
		}
	}
	section("params", r.Params)
	metrics := make(map[string]string, len(r.Metrics))
	for k, m := range r.Metrics {
		metrics[k] = fmt.Sprintf("%s (step %d)", strconv.FormatFloat(m.Value, 'g', -1, 64), m.Step)
	}
	section("metrics", metrics)
	section("tags", r.Tags)
	return nil
}
