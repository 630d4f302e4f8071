package otel

import (
	"context"

	"github.com/hugolhafner/go-streams-runtime/kafka"
	"go.opentelemetry.io/otel/propagation"
)

var _ propagation.TextMapCarrier = HeaderCarrier{}

// HeaderCarrier reads and writes propagation fields in record headers. Kafka allows a key to
// repeat, the last occurrence is read and Set leaves a single one.
type HeaderCarrier struct {
	headers *[]kafka.Header
}

func NewHeaderCarrier(headers *[]kafka.Header) HeaderCarrier {
	return HeaderCarrier{headers: headers}
}

func (c HeaderCarrier) Get(key string) string {
	hs := *c.headers
	for i := len(hs) - 1; i >= 0; i-- {
		if hs[i].Key == key {
			return string(hs[i].Value)
		}
	}
	return ""
}

func (c HeaderCarrier) Set(key, value string) {
	out := (*c.headers)[:0]
	found := false
	for _, h := range *c.headers {
		if h.Key != key {
			out = append(out, h)
			continue
		}
		if !found {
			out = append(out, kafka.Header{Key: key, Value: []byte(value)})
			found = true
		}
	}
	if !found {
		out = append(out, kafka.Header{Key: key, Value: []byte(value)})
	}
	*c.headers = out
}

func (c HeaderCarrier) Keys() []string {
	seen := make(map[string]struct{}, len(*c.headers))
	keys := make([]string, 0, len(*c.headers))
	for _, h := range *c.headers {
		if _, ok := seen[h.Key]; ok {
			continue
		}
		seen[h.Key] = struct{}{}
		keys = append(keys, h.Key)
	}
	return keys
}

// Extract returns ctx carrying the remote span context found in headers
func (t *Telemetry) Extract(ctx context.Context, headers []kafka.Header) context.Context {
	return t.Propagator.Extract(ctx, NewHeaderCarrier(&headers))
}

// Inject writes the span context of ctx into headers. The slice is modified in place, callers
// sharing it with a consumed record must clone it first.
func (t *Telemetry) Inject(ctx context.Context, headers *[]kafka.Header) {
	t.Propagator.Inject(ctx, NewHeaderCarrier(headers))
}
