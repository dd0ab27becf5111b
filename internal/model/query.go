package model

// SearchRunsRequest is the request body for POST /v1/runs/search.
type SearchRunsRequest struct {
	ExperimentIDs []string `json:"experiment_ids"`
	Filter        string   `json:"filter,omitempty"`
	OrderBy       []string `json:"order_by,omitempty"`
	ViewType      ViewType `json:"run_view_type,omitempty"`
	MaxResults    int      `json:"max_results,omitempty"`
	PageToken     string   `json:"page_token,omitempty"`
}

// SearchRunsResult is one page of a run search.
// NextPageToken is empty on the last page.
type SearchRunsResult struct {
	Runs          []Run  `json:"runs"`
	NextPageToken string `json:"next_page_token,omitempty"`
}

// Search page size bounds.
const (
	DefaultSearchMaxResults = 1000
	MaxSearchMaxResults     = 50000
)

// FileInfo describes one entry of an artifact listing.
type FileInfo struct {
	Path     string `json:"path"`
	IsDir    bool   `json:"is_dir"`
	FileSize int64  `json:"file_size,omitempty"`
}
