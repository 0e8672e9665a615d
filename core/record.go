package core

import (
	"fmt"
	"strings"
)

// RawRecord is one unvalidated record as delivered by a collector.
// Keys are source-specific; collectors add source_name, source_type and collection_time.
type RawRecord map[string]interface{}

// Get returns the value stored under key and whether it was present
func (r RawRecord) Get(key string) (interface{}, bool) {
	if r == nil {
		return nil, false
	}
	v, ok := r[key]
	return v, ok
}

// String returns the value under key rendered as a trimmed string.
// Missing and nil values yield "".
func (r RawRecord) String(key string) string {
	v, ok := r.Get(key)
	if !ok || v == nil {
		return ""
	}
	return strings.TrimSpace(Stringify(v))
}

// FirstString returns the first non-empty string value among keys, in order
func (r RawRecord) FirstString(keys ...string) string {
	for _, k := range keys {
		if s := r.String(k); s != "" {
			return s
		}
	}
	return ""
}

// FirstPresent returns the value of the first key that is present and non-nil
func (r RawRecord) FirstPresent(keys ...string) (interface{}, bool) {
	for _, k := range keys {
		if v, ok := r.Get(k); ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// Clone returns a shallow copy of the record
func (r RawRecord) Clone() RawRecord {
	if r == nil {
		return nil
	}
	out := make(RawRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Stringify renders a decoded JSON-ish value as a string.
// Whole floats print without a fractional part so 3.0 becomes "3".
func Stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []byte:
		return string(t)
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case float32:
		if t == float32(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%v", t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprintf("%v", t)
	}
}
