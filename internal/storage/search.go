package storage

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ashita-ai/tsuiseki/internal/filter"
	"github.com/ashita-ai/tsuiseki/internal/model"
)

// pageToken is the decoded form of SearchRunsResult.NextPageToken.
type pageToken struct {
	Offset int `json:"offset"`
}

func encodePageToken(offset int) string {
	b, _ := json.Marshal(pageToken{Offset: offset})
	return base64.RawURLEncoding.EncodeToString(b)
}

func decodePageToken(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: malformed page token", model.ErrInvalidArgument)
	}
	var tok pageToken
	if err := json.Unmarshal(raw, &tok); err != nil || tok.Offset < 0 {
		return 0, fmt.Errorf("%w: malformed page token", model.ErrInvalidArgument)
	}
	return tok.Offset, nil
}

// attribute name -> runs column
var attributeColumns = map[string]string{
	"run_id":     "runs.run_id",
	"run_name":   "runs.name",
	"status":     "runs.status",
	"start_time": "runs.start_time",
	"end_time":   "runs.end_time",
}

// SearchRuns returns one page of runs from the given experiments that match
// the filter, sorted by the order_by clauses and then by start time
// (newest first) and run ID. Runs missing an order_by metric or param sort last.
func (db *DB) SearchRuns(ctx context.Context, req model.SearchRunsRequest) (model.SearchRunsResult, error) {
	if len(req.ExperimentIDs) == 0 {
		return model.SearchRunsResult{}, fmt.Errorf("storage: search runs: %w: at least one experiment id is required", model.ErrInvalidArgument)
	}
	limit := req.MaxResults
	switch {
	case limit == 0:
		limit = model.DefaultSearchMaxResults
	case limit < 0 || limit > model.MaxSearchMaxResults:
		return model.SearchRunsResult{}, fmt.Errorf("storage: search runs: %w: max_results must be between 1 and %d",
			model.ErrInvalidArgument, model.MaxSearchMaxResults)
	}
	offset, err := decodePageToken(req.PageToken)
	if err != nil {
		return model.SearchRunsResult{}, fmt.Errorf("storage: search runs: %w", err)
	}
	clauses, err := filter.Parse(req.Filter)
	if err != nil {
		return model.SearchRunsResult{}, fmt.Errorf("storage: search runs: %w", err)
	}
	orderBy, err := filter.ParseOrderBy(req.OrderBy)
	if err != nil {
		return model.SearchRunsResult{}, fmt.Errorf("storage: search runs: %w", err)
	}

	var (
		joins  strings.Builder
		where  []string
		order  []string
		args   []any
		wargs  []any
		expIDs = make([]string, len(req.ExperimentIDs))
	)

	// Sort joins come first so their placeholders precede the WHERE ones.
	for i, ob := range orderBy {
		dir := " ASC"
		if ob.Desc {
			dir = " DESC"
		}
		alias := "ob" + strconv.Itoa(i)
		switch ob.Entity {
		case filter.EntityMetric, filter.EntityParam, filter.EntityTag:
			table := map[filter.Entity]string{
				filter.EntityMetric: "latest_metrics",
				filter.EntityParam:  "params",
				filter.EntityTag:    "tags",
			}[ob.Entity]
			fmt.Fprintf(&joins, " LEFT JOIN %s %s ON %s.run_id = runs.run_id AND %s.key = ?", table, alias, alias, alias)
			args = append(args, ob.Key)
			order = append(order, "("+alias+".value IS NULL)", alias+".value"+dir)
		case filter.EntityAttribute:
			col := attributeColumns[ob.Key]
			order = append(order, "("+col+" IS NULL)", col+dir)
		}
	}

	for i, id := range req.ExperimentIDs {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return model.SearchRunsResult{}, fmt.Errorf("storage: search runs: %w: experiment id %q", model.ErrInvalidArgument, id)
		}
		expIDs[i] = "?"
		wargs = append(wargs, n)
	}
	where = append(where, "runs.experiment_id IN ("+strings.Join(expIDs, ", ")+")")

	switch model.ViewType(strings.ToLower(string(req.ViewType))) {
	case model.ViewAll:
	case model.ViewDeletedOnly:
		where = append(where, "runs.lifecycle_stage = 'deleted'")
	default:
		where = append(where, "runs.lifecycle_stage = 'active'")
	}

	for _, c := range clauses {
		cond, cargs := clauseSQL(c)
		where = append(where, cond)
		wargs = append(wargs, cargs...)
	}

	order = append(order, "runs.start_time DESC", "runs.run_id")
	args = append(args, wargs...)
	args = append(args, limit+1, offset)

	query := `SELECT ` + prefixed("runs.", runColumns) + ` FROM runs` + joins.String() +
		` WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY ` + strings.Join(order, ", ") +
		` LIMIT ? OFFSET ?`

	c := db.reader()
	rows, err := c.query(ctx, query, args...)
	if err != nil {
		return model.SearchRunsResult{}, fmt.Errorf("storage: search runs: %w", err)
	}
	var infos []model.RunInfo
	for rows.Next() {
		info, err := scanRunInfo(rows)
		if err != nil {
			_ = rows.Close()
			return model.SearchRunsResult{}, fmt.Errorf("storage: scan run: %w", err)
		}
		infos = append(infos, info)
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return model.SearchRunsResult{}, fmt.Errorf("storage: search runs: %w", err)
	}

	var result model.SearchRunsResult
	if len(infos) > limit {
		infos = infos[:limit]
		result.NextPageToken = encodePageToken(offset + limit)
	}
	result.Runs, err = db.hydrate(ctx, c, infos)
	if err != nil {
		return model.SearchRunsResult{}, fmt.Errorf("storage: search runs: %w", err)
	}
	if result.Runs == nil {
		result.Runs = []model.Run{}
	}
	return result, nil
}

func clauseSQL(c filter.Clause) (string, []any) {
	op := string(c.Op)
	switch c.Entity {
	case filter.EntityMetric:
		return `EXISTS (SELECT 1 FROM latest_metrics f WHERE f.run_id = runs.run_id AND f.key = ? AND f.value ` + op + ` ?)`,
			[]any{c.Key, c.Num}
	case filter.EntityParam:
		return `EXISTS (SELECT 1 FROM params f WHERE f.run_id = runs.run_id AND f.key = ? AND f.value ` + op + ` ?)`,
			[]any{c.Key, c.Str}
	case filter.EntityTag:
		return `EXISTS (SELECT 1 FROM tags f WHERE f.run_id = runs.run_id AND f.key = ? AND f.value ` + op + ` ?)`,
			[]any{c.Key, c.Str}
	default:
		col := attributeColumns[c.Key]
		if c.Numeric {
			return col + " " + op + " ?", []any{int64(c.Num)}
		}
		v := c.Str
		if c.Key == "status" {
			v = strings.ToLower(v)
		}
		return col + " " + op + " ?", []any{v}
	}
}

func prefixed(prefix, columns string) string {
	cols := strings.Split(columns, ", ")
	for i, c := range cols {
		cols[i] = prefix + c
	}
	return strings.Join(cols, ", ")
}
