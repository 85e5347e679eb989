package workflow

import (
	"fmt"
	"regexp"

	"github.com/rahul/operator/internal/tools"
)

var referencePattern = regexp.MustCompile(`\$\{([A-Za-z0-9_]+)\}`)

// Bindings returns the workflow's variable values with overrides applied.
func (w *Workflow) Bindings(overrides map[string]any) map[string]any {
	out := make(map[string]any, len(w.Variables)+len(overrides))
	for name, v := range w.Variables {
		out[name] = v.Value
	}
	for name, v := range overrides {
		out[name] = v
	}
	return out
}

// Resolve replaces variable references in params. A parameter that is
// exactly one reference takes the bound value with its type; references
// inside longer strings are replaced by the value's text. Unknown references
// are an error.
func Resolve(params map[string]any, bindings map[string]any) (tools.Params, error) {
	out := make(tools.Params, len(params))
	for k, v := range params {
		s, ok := v.(string)
		if !ok {
			out[k] = v
			continue
		}

		if m := referencePattern.FindStringSubmatch(s); m != nil && m[0] == s {
			val, ok := bindings[m[1]]
			if !ok {
				return nil, fmt.Errorf("parameter %q: undefined variable %s", k, m[1])
			}
			out[k] = val
			continue
		}

		var missing string
		out[k] = referencePattern.ReplaceAllStringFunc(s, func(ref string) string {
			name := ref[2 : len(ref)-1]
			val, ok := bindings[name]
			if !ok {
				missing = name
				return ref
			}
			return fmt.Sprint(val)
		})
		if missing != "" {
			return nil, fmt.Errorf("parameter %q: undefined variable %s", k, missing)
		}
	}
	return out, nil
}
