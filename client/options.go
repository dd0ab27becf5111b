package client

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ashita-ai/tsuiseki/internal/modelfmt"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	httpClient   *http.Client
	timeout      time.Duration
	apiKey       string
	subject      string
	artifactRoot string
	logger       *slog.Logger
	loaders      map[string]modelfmt.Loader
}

func defaultOptions() options {
	return options{
		timeout: 30 * time.Second,
		subject: "tsuiseki-client",
		logger:  slog.Default(),
		loaders: map[string]modelfmt.Loader{},
	}
}

// WithAPIKey sets the key exchanged for a bearer token on a remote tracking
// server. Without it, requests are sent unauthenticated.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithSubject sets the subject named in token requests.
func WithSubject(subject string) Option {
	return func(o *options) { o.subject = subject }
}

// WithHTTPClient replaces the HTTP client used for remote backends.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
// Ignored when WithHTTPClient is also given.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithArtifactRoot sets where a local backend stores artifacts. Defaults
// to the directory next to the metadata store.
func WithArtifactRoot(root string) Option {
	return func(o *options) { o.artifactRoot = root }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithLoader registers a loader for a model format in addition to the
// built-in ones. A later registration for the same format wins.
func WithLoader(format string, l Loader) Option {
	return func(o *options) { o.loaders[format] = l }
}
