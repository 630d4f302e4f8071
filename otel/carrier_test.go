//go:build unit

package otel

import (
	"context"
	"testing"

	"github.com/hugolhafner/go-streams-runtime/kafka"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

func TestHeaderCarrier_GetReadsLastOccurrence(t *testing.T) {
	headers := []kafka.Header{
		{Key: "traceparent", Value: []byte("first")},
		{Key: "other", Value: []byte("value")},
		{Key: "traceparent", Value: []byte("second")},
	}
	carrier := NewHeaderCarrier(&headers)

	assert.Equal(t, "second", carrier.Get("traceparent"))
	assert.Equal(t, "value", carrier.Get("other"))
	assert.Equal(t, "", carrier.Get("missing"))
}

func TestHeaderCarrier_Set(t *testing.T) {
	tests := []struct {
		name     string
		headers  []kafka.Header
		expected []kafka.Header
	}{
		{
			name:     "appends",
			headers:  []kafka.Header{{Key: "existing", Value: []byte("val")}},
			expected: []kafka.Header{{Key: "existing", Value: []byte("val")}, {Key: "traceparent", Value: []byte("new")}},
		},
		{
			name:     "replaces",
			headers:  []kafka.Header{{Key: "traceparent", Value: []byte("old")}},
			expected: []kafka.Header{{Key: "traceparent", Value: []byte("new")}},
		},
		{
			name: "collapses duplicates",
			headers: []kafka.Header{
				{Key: "traceparent", Value: []byte("a")},
				{Key: "x", Value: []byte("1")},
				{Key: "traceparent", Value: []byte("b")},
			},
			expected: []kafka.Header{{Key: "traceparent", Value: []byte("new")}, {Key: "x", Value: []byte("1")}},
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name, func(t *testing.T) {
				headers := tt.headers
				NewHeaderCarrier(&headers).Set("traceparent", "new")
				assert.Equal(t, tt.expected, headers)
			},
		)
	}
}

func TestHeaderCarrier_KeysAreUnique(t *testing.T) {
	headers := []kafka.Header{
		{Key: "traceparent", Value: []byte("val1")},
		{Key: "tracestate", Value: []byte("val2")},
		{Key: "traceparent", Value: []byte("val3")},
	}
	assert.Equal(t, []string{"traceparent", "tracestate"}, NewHeaderCarrier(&headers).Keys())

	var empty []kafka.Header
	assert.Empty(t, NewHeaderCarrier(&empty).Keys())
}

func TestTelemetry_InjectExtractRoundTrip(t *testing.T) {
	tel, err := NewTelemetry(nil, nil, propagation.TraceContext{})
	require.NoError(t, err)

	sc := trace.NewSpanContext(
		trace.SpanContextConfig{
			TraceID:    trace.TraceID{1, 2, 3},
			SpanID:     trace.SpanID{4, 5, 6},
			TraceFlags: trace.FlagsSampled,
		},
	)
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	var headers []kafka.Header
	tel.Inject(ctx, &headers)
	require.Len(t, headers, 1)
	assert.Equal(t, "traceparent", headers[0].Key)

	got := trace.SpanContextFromContext(tel.Extract(context.Background(), headers))
	assert.Equal(t, sc.TraceID(), got.TraceID())
	assert.Equal(t, sc.SpanID(), got.SpanID())
	assert.True(t, got.IsRemote())
}
