// Package workflow implements the composite workflow tools: compose_functions,
// if_then_else, parallel_execute, retry_with_backoff, fallback, and the
// human-in-the-loop request_approval/ask_user tools. Each is itself a
// registered tool descriptor that re-enters the dispatcher recursively.
package workflow

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// resolveRefs walks args (already json.RawMessage) and substitutes any
// "$name" or "$name.path.to" string value with the corresponding value from
// outputs["name"], path-walked through path.to. A string containing other
// characters around the reference is left untouched - only a value that is
// *exactly* a reference is substituted, per the { $ref: "$name.data" }
// convention used for object-shaped args.
func resolveRefs(args json.RawMessage, outputs map[string]any) (json.RawMessage, error) {
	var generic any
	if err := json.Unmarshal(args, &generic); err != nil {
		return nil, fmt.Errorf("workflow: unmarshal step args: %w", err)
	}
	resolved, err := resolveValue(generic, outputs)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("workflow: marshal resolved args: %w", err)
	}
	return out, nil
}

func resolveValue(v any, outputs map[string]any) (any, error) {
	switch val := v.(type) {
	case string:
		if ref, ok := asReference(val); ok {
			return resolvePath(ref, outputs)
		}
		return val, nil
	case map[string]any:
		if ref, ok := val["$ref"]; ok {
			refStr, ok := ref.(string)
			if !ok {
				return nil, fmt.Errorf("workflow: $ref must be a string")
			}
			path, ok := asReference(refStr)
			if !ok {
				return nil, fmt.Errorf("workflow: $ref %q is not a variable reference", refStr)
			}
			return resolvePath(path, outputs)
		}
		out := make(map[string]any, len(val))
		for k, child := range val {
			resolvedChild, err := resolveValue(child, outputs)
			if err != nil {
				return nil, err
			}
			out[k] = resolvedChild
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, child := range val {
			resolvedChild, err := resolveValue(child, outputs)
			if err != nil {
				return nil, err
			}
			out[i] = resolvedChild
		}
		return out, nil
	default:
		return val, nil
	}
}

// asReference reports whether s is a "$name" or "$name.path" reference and
// returns the part after the leading "$".
func asReference(s string) (string, bool) {
	if !strings.HasPrefix(s, "$") || len(s) < 2 {
		return "", false
	}
	return s[1:], true
}

// resolvePath path-walks outputs through a dotted "name.path.to" reference,
// where "name" selects a prior step's output_var and the remaining segments
// index into it (map keys or slice indices). An unresolved path fails.
func resolvePath(ref string, outputs map[string]any) (any, error) {
	segments := strings.Split(ref, ".")
	name := segments[0]
	current, ok := outputs[name]
	if !ok {
		return nil, fmt.Errorf("workflow: unresolved reference $%s: no such output variable", ref)
	}
	for _, seg := range segments[1:] {
		next, err := step(current, seg)
		if err != nil {
			return nil, fmt.Errorf("workflow: unresolved reference $%s: %w", ref, err)
		}
		current = next
	}
	return current, nil
}

func step(current any, seg string) (any, error) {
	switch c := current.(type) {
	case map[string]any:
		v, ok := c[seg]
		if !ok {
			return nil, fmt.Errorf("no field %q", seg)
		}
		return v, nil
	case []any:
		idx, err := strconv.Atoi(seg)
		if err != nil || idx < 0 || idx >= len(c) {
			return nil, fmt.Errorf("invalid index %q", seg)
		}
		return c[idx], nil
	default:
		return nil, fmt.Errorf("cannot index into %T with %q", current, seg)
	}
}
