package validate

import (
	"fmt"
	"sort"

	"skillbot/internal/schema"
)

// EntityData validates a whole payload. Unknown and system keys are skipped.
// Every field error is collected; required presence is only enforced for
// create. A non-empty error map means the payload must be rejected as a whole,
// so no values are returned alongside it.
func EntityData(payload map[string]any, fields schema.Registry, required, system []string, op schema.Operation) (schema.Values, map[string]string) {
	skip := make(map[string]bool, len(system))
	for _, name := range system {
		skip[name] = true
	}

	values := make(schema.Values)
	errs := make(map[string]string)

	for _, name := range sortedKeys(payload) {
		if skip[name] {
			continue
		}
		if _, known := fields[name]; !known {
			continue
		}
		v, msg := FieldValue(name, payload[name], fields)
		if msg != "" {
			errs[name] = msg
			continue
		}
		if v.Kind != schema.KindNull {
			values[name] = v
		}
	}

	if op == schema.OpCreate {
		for _, name := range required {
			if skip[name] || values.Has(name) {
				continue
			}
			if _, reported := errs[name]; reported {
				continue
			}
			label := name
			if f, ok := fields[name]; ok {
				label = f.DisplayLabel()
			}
			errs[name] = fmt.Sprintf("%s is required", label)
		}
	}

	if len(errs) > 0 {
		return nil, errs
	}
	return values, nil
}

// Schema is EntityData driven by an action schema.
func Schema(s schema.ActionSchema, payload map[string]any) (schema.Values, map[string]string) {
	return EntityData(payload, s.Registry(), s.RequiredNames(), s.SystemFields, s.Operation)
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
