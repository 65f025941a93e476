package condition

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

func (c Context) functions() []expr.Option {
	st := c.Status
	return []expr.Option{
		expr.Function("fn_success", func(...any) (any, error) {
			return !st.Failed && !st.Cancelled, nil
		}),
		expr.Function("fn_always", func(...any) (any, error) { return true, nil }),
		expr.Function("fn_failure", func(...any) (any, error) { return st.Failed, nil }),
		expr.Function("fn_cancelled", func(...any) (any, error) { return st.Cancelled, nil }),
		expr.Function("fn_startswith", func(p ...any) (any, error) {
			a, b, err := twoStrings("startsWith", p)
			if err != nil {
				return nil, err
			}
			return strings.HasPrefix(strings.ToLower(a), strings.ToLower(b)), nil
		}),
		expr.Function("fn_endswith", func(p ...any) (any, error) {
			a, b, err := twoStrings("endsWith", p)
			if err != nil {
				return nil, err
			}
			return strings.HasSuffix(strings.ToLower(a), strings.ToLower(b)), nil
		}),
		expr.Function("fn_contains", func(p ...any) (any, error) {
			if len(p) != 2 {
				return nil, fmt.Errorf("contains: want 2 arguments, got %d", len(p))
			}
			if list, ok := p[0].([]any); ok {
				item := strings.ToLower(stringify(p[1]))
				for _, v := range list {
					if strings.ToLower(stringify(v)) == item {
						return true, nil
					}
				}
				return false, nil
			}
			return strings.Contains(strings.ToLower(stringify(p[0])), strings.ToLower(stringify(p[1]))), nil
		}),
		expr.Function("fn_format", func(p ...any) (any, error) {
			if len(p) == 0 {
				return nil, fmt.Errorf("format: missing format string")
			}
			out := stringify(p[0])
			for i, arg := range p[1:] {
				out = strings.ReplaceAll(out, "{"+strconv.Itoa(i)+"}", stringify(arg))
			}
			return out, nil
		}),
		expr.Function("fn_join", func(p ...any) (any, error) {
			if len(p) == 0 {
				return "", nil
			}
			sep := ","
			if len(p) > 1 {
				sep = stringify(p[1])
			}
			list, ok := p[0].([]any)
			if !ok {
				return stringify(p[0]), nil
			}
			parts := make([]string, 0, len(list))
			for _, v := range list {
				parts = append(parts, stringify(v))
			}
			return strings.Join(parts, sep), nil
		}),
		expr.Function("fn_tojson", func(p ...any) (any, error) {
			if len(p) != 1 {
				return nil, fmt.Errorf("toJSON: want 1 argument, got %d", len(p))
			}
			b, err := json.Marshal(p[0])
			if err != nil {
				return nil, err
			}
			return string(b), nil
		}),
	}
}

func twoStrings(name string, p []any) (string, string, error) {
	if len(p) != 2 {
		return "", "", fmt.Errorf("%s: want 2 arguments, got %d", name, len(p))
	}
	return stringify(p[0]), stringify(p[1]), nil
}
