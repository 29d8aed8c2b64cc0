package toolservice

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// IntegerParams are always sent as integers when their value is numeric,
// whatever the schema says.
var IntegerParams = map[string]bool{
	"resource_id":     true,
	"incident_id":     true,
	"changelog_id":    true,
	"ticket_id":       true,
	"notification_id": true,
	"page":            true,
	"page_size":       true,
	"limit":           true,
}

type schemaDoc struct {
	Properties map[string]struct {
		Type any `json:"type"`
	} `json:"properties"`
}

// ParamTypes returns the declared JSON type of each property in schema.
// Properties with a type list keep the first non-null entry.
func ParamTypes(schema json.RawMessage) map[string]string {
	if len(schema) == 0 {
		return nil
	}
	var doc schemaDoc
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil
	}
	types := make(map[string]string, len(doc.Properties))
	for name, prop := range doc.Properties {
		switch t := prop.Type.(type) {
		case string:
			types[name] = t
		case []any:
			for _, v := range t {
				if s, ok := v.(string); ok && s != "null" {
					types[name] = s
					break
				}
			}
		}
	}
	return types
}

// Coerce returns a copy of params with textual numbers converted to the type
// the schema declares. Values that do not parse are left as they are.
func Coerce(schema json.RawMessage, params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	types := ParamTypes(schema)
	out := make(map[string]any, len(params))
	for k, v := range params {
		want := types[k]
		if want == "" && IntegerParams[k] {
			want = "integer"
		}
		out[k] = coerceValue(v, want)
	}
	return out
}

func coerceValue(v any, want string) any {
	switch want {
	case "integer":
		if n, ok := toInt(v); ok {
			return n
		}
	case "number":
		if f, ok := toFloat(v); ok {
			return f
		}
	}
	return v
}

func toInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case float64:
		if x == math.Trunc(x) {
			return int64(x), true
		}
	case json.Number:
		if n, err := x.Int64(); err == nil {
			return n, true
		}
	case string:
		if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
			return n, true
		}
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return f, true
		}
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
			return f, true
		}
	}
	return 0, false
}
