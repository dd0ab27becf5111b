package telemetry_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"

	"github.com/ashita-ai/tsuiseki/internal/model"
	"github.com/ashita-ai/tsuiseki/internal/telemetry"
	"github.com/ashita-ai/tsuiseki/internal/testutil"
)

func TestInitWithoutEndpointIsNoop(t *testing.T) {
	shutdown, err := telemetry.Init(context.Background(), telemetry.Config{ServiceName: "tsuiseki"})
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestEnd(t *testing.T) {
	rec := testutil.RecordSpans(t)
	tracer := telemetry.Tracer("test")

	op := func(name string, err error) {
		_, span := tracer.Start(context.Background(), name)
		telemetry.End(span, &err)
	}
	op("ok", nil)
	op("caller", fmt.Errorf("get run: %w", model.ErrNotFound))
	op("server", errors.New("disk full"))
	_, span := tracer.Start(context.Background(), "nil-pointer")
	telemetry.End(span, nil)

	spans := rec.Ended()
	require.Len(t, spans, 4)
	assert.Equal(t, codes.Unset, spans[0].Status().Code)
	assert.Empty(t, spans[0].Events())
	assert.Equal(t, codes.Unset, spans[1].Status().Code)
	assert.Len(t, spans[1].Events(), 1)
	assert.Equal(t, codes.Error, spans[2].Status().Code)
	assert.Equal(t, "disk full", spans[2].Status().Description)
	assert.Equal(t, codes.Unset, spans[3].Status().Code)
}
