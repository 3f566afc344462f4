// Package bsonutil provides shared BSON type conversion helpers.
// Admin command replies decode into bson.M, where numbers may arrive as int32,
// int64 or float64 and dates as primitive.DateTime. These helpers read them
// without panicking on unexpected types.
package bsonutil

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ToString converts a BSON value to string. Returns "" for nil.
// Non-string values are formatted with fmt.Sprintf.
func ToString(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// ToInt64 converts a BSON numeric value to int64. Returns 0 for nil or
// unrecognised types.
func ToInt64(v interface{}) int64 {
	switch n := v.(type) {
	case int32:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case int:
		return int64(n)
	default:
		return 0
	}
}

// ToFloat64 converts a BSON numeric value to float64. Returns 0 for nil or
// unrecognised types.
func ToFloat64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

// IsNumber reports whether v is one of the numeric types ToInt64 understands.
func IsNumber(v interface{}) bool {
	switch v.(type) {
	case int32, int64, float64, int:
		return true
	default:
		return false
	}
}

// ToBool converts a BSON value to bool. Numbers are true when non-zero, which
// matches how mongod reports flags like "ok" and "health".
func ToBool(v interface{}) bool {
	if b, ok := v.(bool); ok {
		return b
	}
	if IsNumber(v) {
		return ToFloat64(v) != 0
	}
	return false
}

// ToInt converts a BSON numeric value to int.
func ToInt(v interface{}) int {
	return int(ToInt64(v))
}

// ToTime converts a BSON date or timestamp to time.Time. The second return
// value is false when v carries no usable time.
func ToTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case primitive.DateTime:
		return t.Time().UTC(), true
	case time.Time:
		return t.UTC(), !t.IsZero()
	case primitive.Timestamp:
		if t.T == 0 {
			return time.Time{}, false
		}
		return time.Unix(int64(t.T), 0).UTC(), true
	default:
		return time.Time{}, false
	}
}

// ToDoc converts an embedded document to bson.M. Returns nil when v is not a document.
func ToDoc(v interface{}) bson.M {
	switch d := v.(type) {
	case bson.M:
		return d
	case map[string]interface{}:
		return bson.M(d)
	case bson.D:
		return d.Map()
	default:
		return nil
	}
}

// ToSlice converts a BSON array to []interface{}. Returns nil when v is not an array.
func ToSlice(v interface{}) []interface{} {
	switch a := v.(type) {
	case primitive.A:
		return []interface{}(a)
	case []interface{}:
		return a
	case []string:
		out := make([]interface{}, len(a))
		for i, s := range a {
			out[i] = s
		}
		return out
	default:
		return nil
	}
}

// ToStringSlice converts a BSON array of strings to []string, skipping non-strings.
func ToStringSlice(v interface{}) []string {
	items := ToSlice(v)
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Int64FromMap extracts an int64 value from a map by key.
func Int64FromMap(m map[string]interface{}, key string) int64 {
	return ToInt64(m[key])
}

// BoolFromMap extracts a bool value from a map by key.
func BoolFromMap(m map[string]interface{}, key string) bool {
	return ToBool(m[key])
}

// DocFromMap extracts an embedded document from a map by key.
func DocFromMap(m map[string]interface{}, key string) bson.M {
	return ToDoc(m[key])
}

// Lookup walks nested documents along path and returns the value found, or nil.
func Lookup(m bson.M, path ...string) interface{} {
	var cur interface{} = m
	for _, key := range path {
		doc := ToDoc(cur)
		if doc == nil {
			return nil
		}
		cur = doc[key]
	}
	return cur
}
