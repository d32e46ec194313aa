package provider

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Render substitutes {{name}} placeholders in a step's content template
// with values from the trigger payload. Two extra variables are bound
// when the job carries digest events: {{events.length}} is the event
// count, and {{events}} is the raw JSON array.
//
// Unknown placeholders render as empty strings, matching how missing
// payload fields behave everywhere else in the pipeline.
func Render(content string, payload json.RawMessage, events []json.RawMessage) string {
	vars := map[string]string{}
	if len(payload) > 0 {
		var obj map[string]any
		if err := json.Unmarshal(payload, &obj); err == nil {
			for k, v := range obj {
				vars[k] = stringify(v)
			}
		}
	}
	if events != nil {
		vars["events.length"] = strconv.Itoa(len(events))
		raw, _ := json.Marshal(events)
		vars["events"] = string(raw)
	}

	var b strings.Builder
	rest := content
	for {
		start := strings.Index(rest, "{{")
		if start < 0 {
			b.WriteString(rest)
			return b.String()
		}
		end := strings.Index(rest[start:], "}}")
		if end < 0 {
			b.WriteString(rest)
			return b.String()
		}
		b.WriteString(rest[:start])
		name := strings.TrimSpace(rest[start+2 : start+end])
		b.WriteString(vars[name])
		rest = rest[start+end+2:]
	}
}

func stringify(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case nil:
		return ""
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprintf("%v", t)
		}
		return string(raw)
	}
}
