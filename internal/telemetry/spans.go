package telemetry

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tripsage/tripsage-core/internal/cerr"
)

const instrumentation = "github.com/tripsage/tripsage-core"

// Tracer returns the package tracer from the global provider. Looked up on
// every call so providers installed after package init are honoured.
func Tracer() trace.Tracer {
	return otel.Tracer(instrumentation)
}

// RedactedValue replaces redacted parameter values.
const RedactedValue = "[REDACTED]"

// Redact returns a shallow copy of params with the given top-level keys
// replaced by RedactedValue. Key matching is case-insensitive.
func Redact(params map[string]any, keys []string) map[string]any {
	if len(params) == 0 {
		return params
	}
	drop := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		drop[strings.ToLower(k)] = struct{}{}
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		if _, ok := drop[strings.ToLower(k)]; ok {
			out[k] = RedactedValue
			continue
		}
		out[k] = v
	}
	return out
}

// RedactedJSON renders Redact(params, keys) as JSON for span attributes and
// log lines.
func RedactedJSON(params map[string]any, keys []string) string {
	b, err := json.Marshal(Redact(params, keys))
	if err != nil {
		return "{}"
	}
	return string(b)
}

// Attributes converts a flat map into span attributes, sorted by key.
// Non-scalar values are formatted with %v.
func Attributes(prefix string, m map[string]any) []attribute.KeyValue {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]attribute.KeyValue, 0, len(keys))
	for _, k := range keys {
		key := prefix + k
		switch v := m[k].(type) {
		case string:
			out = append(out, attribute.String(key, v))
		case bool:
			out = append(out, attribute.Bool(key, v))
		case int:
			out = append(out, attribute.Int(key, v))
		case int64:
			out = append(out, attribute.Int64(key, v))
		case float64:
			out = append(out, attribute.Float64(key, v))
		case []string:
			out = append(out, attribute.StringSlice(key, v))
		default:
			out = append(out, attribute.String(key, fmt.Sprintf("%v", v)))
		}
	}
	return out
}

// RecordError marks the span failed and attaches the error code, if any.
func RecordError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	if code := cerr.CodeOf(err); code != "" {
		span.SetAttributes(attribute.String("error.code", code.String()))
	}
	span.SetStatus(codes.Error, err.Error())
}
