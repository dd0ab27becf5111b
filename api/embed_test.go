package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAPISpecIsValid(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(OpenAPISpec)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(context.Background()))

	for path, methods := range map[string][]string{
		"/health":                               {http.MethodGet},
		"/auth/token":                           {http.MethodPost},
		"/v1/experiments":                       {http.MethodGet, http.MethodPost},
		"/v1/runs/search":                       {http.MethodPost},
		"/v1/runs/{run_id}/batch":               {http.MethodPost},
		"/v1/runs/{run_id}/artifacts/{path}":    {http.MethodGet, http.MethodPut},
		"/v1/registered-models/{name}/versions": {http.MethodGet, http.MethodPost},
		"/v1/registered-models/{name}/latest":   {http.MethodGet},
		"/v1/models/resolve":                    {http.MethodPost},
	} {
		item := doc.Paths.Value(path)
		if !assert.NotNil(t, item, "missing path %s", path) {
			continue
		}
		for _, m := range methods {
			assert.NotNil(t, item.GetOperation(m), "%s %s", m, path)
		}
	}
}

func TestOpenAPIPublicEndpoints(t *testing.T) {
	doc, err := openapi3.NewLoader().LoadFromData(OpenAPISpec)
	require.NoError(t, err)

	for _, path := range []string{"/health", "/auth/token", "/openapi.yaml"} {
		item := doc.Paths.Value(path)
		require.NotNil(t, item, path)
		for _, op := range item.Operations() {
			require.NotNil(t, op.Security, path)
			assert.Empty(t, *op.Security, "%s must not require a token", path)
		}
	}
	assert.NotEmpty(t, doc.Security, "everything else requires a bearer token")
}
