package tsuiseki

import "log/slog"

// Option configures an App.
type Option func(*resolvedOptions)

// resolvedOptions holds overrides applied on top of the environment config.
type resolvedOptions struct {
	port            int
	backendStoreURI string
	artifactRoot    string
	apiKey          *string
	logger          *slog.Logger
	version         string
}

// WithPort overrides the TCP port from config (TSUISEKI_PORT env var).
func WithPort(port int) Option {
	return func(o *resolvedOptions) { o.port = port }
}

// WithBackendStoreURI overrides the metadata store (TSUISEKI_BACKEND_STORE_URI
// env var): a directory, file:// URI or postgres:// DSN.
func WithBackendStoreURI(uri string) Option {
	return func(o *resolvedOptions) { o.backendStoreURI = uri }
}

// WithArtifactRoot overrides where artifacts are written (TSUISEKI_ARTIFACT_ROOT env var).
func WithArtifactRoot(root string) Option {
	return func(o *resolvedOptions) { o.artifactRoot = root }
}

// WithAPIKey overrides TSUISEKI_API_KEY. An empty key disables authentication.
func WithAPIKey(key string) Option {
	return func(o *resolvedOptions) { o.apiKey = &key }
}

// WithLogger sets the structured logger for the App.
// If not set, the default slog logger is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *resolvedOptions) { o.logger = logger }
}

// WithVersion sets the version string reported in the health endpoint and logs.
func WithVersion(version string) Option {
	return func(o *resolvedOptions) { o.version = version }
}
