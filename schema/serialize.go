package schema

import "time"

// Serialize converts a Go value bound for column storage into the form the
// engine should receive: dates become ISO-8601 strings, fileset field
// values are expected to already be their id string (spec.md §4.4, §4.7).
// Every other logical type passes its value through unchanged.
func Serialize(value any, logical LogicalType) any {
	if logical == LogicalDate {
		if t, ok := value.(time.Time); ok {
			return t.UTC().Format(time.RFC3339Nano)
		}
	}
	return value
}
