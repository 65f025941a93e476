// Package condition evaluates the conditional expressions of both pipeline
// dialects: GitHub `if:`/`${{ }}` expressions and GitLab `rules:if`.
//
// Expressions are rewritten into expr-lang syntax and compiled per call,
// with the status functions bound to the outcome of the job's dependencies.
package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/expr-lang/expr"
)

// Status is the outcome of everything a job or step depends on.
type Status struct {
	Failed    bool
	Cancelled bool
}

// Context carries the data visible to a GitHub expression.
type Context struct {
	GitHub  map[string]any
	Env     map[string]string
	Matrix  map[string]string
	Secrets map[string]string
	Runner  map[string]string
	Needs   map[string]any
	Status  Status
}

var (
	contextAccess = regexp.MustCompile(`\b(github|env|matrix|secrets|runner|needs|vars|inputs|steps|job|strategy)((?:\.[A-Za-z_][A-Za-z0-9_-]*)+)`)
	functionCall  = regexp.MustCompile(`(?i)\b(success|always|failure|cancelled|startsWith|endsWith|contains|format|join|toJSON)\s*\(`)
	statusCall    = regexp.MustCompile(`(?i)\b(success|always|failure|cancelled)\s*\(`)
	nullLiteral   = regexp.MustCompile(`\bnull\b`)
	interpolation = regexp.MustCompile(`\$\{\{\s*(.*?)\s*\}\}`)
)

// Eval evaluates a job or step `if:` condition. An empty condition means
// success(); a condition without a status function is implicitly
// `success() && (cond)`.
func Eval(cond string, c Context) (bool, error) {
	cond = unwrap(cond)
	if cond == "" {
		return !c.Status.Failed && !c.Status.Cancelled, nil
	}
	if !HasStatusFunction(cond) {
		cond = "success() && (" + cond + ")"
	}
	v, err := Value(cond, c)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// HasStatusFunction reports whether cond calls success(), always(),
// failure() or cancelled() outside string literals.
func HasStatusFunction(cond string) bool {
	found := false
	walkUnquoted(cond, func(chunk string) string {
		if statusCall.MatchString(chunk) {
			found = true
		}
		return chunk
	}, func(lit string) string { return lit })
	return found
}

// Value evaluates a GitHub expression and returns its raw value.
func Value(expression string, c Context) (any, error) {
	code := translate(unwrap(expression))
	program, err := expr.Compile(code, c.functions()...)
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	out, err := expr.Run(program, c.env())
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expression, err)
	}
	return out, nil
}

// Interpolate replaces every ${{ expr }} in s with the expression value.
func Interpolate(s string, c Context) (string, error) {
	if !strings.Contains(s, "${{") {
		return s, nil
	}
	var firstErr error
	out := interpolation.ReplaceAllStringFunc(s, func(m string) string {
		inner := interpolation.FindStringSubmatch(m)[1]
		v, err := Value(inner, c)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return ""
		}
		return stringify(v)
	})
	return out, firstErr
}

func unwrap(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "${{") && strings.HasSuffix(s, "}}") {
		s = strings.TrimSpace(s[3 : len(s)-2])
	}
	return s
}

func (c Context) env() map[string]any {
	return map[string]any{
		"github":   orEmpty(c.GitHub),
		"env":      toAny(c.Env),
		"matrix":   toAny(c.Matrix),
		"secrets":  toAny(c.Secrets),
		"runner":   toAny(c.Runner),
		"needs":    orEmpty(c.Needs),
		"vars":     map[string]any{},
		"inputs":   map[string]any{},
		"steps":    map[string]any{},
		"job":      map[string]any{},
		"strategy": map[string]any{},
	}
}

// translate rewrites GitHub syntax the expr parser does not accept:
// hyphenated property names, single-quoted strings, null, and function
// names that collide with expr operators.
func translate(code string) string {
	return walkUnquoted(code, func(chunk string) string {
		chunk = contextAccess.ReplaceAllStringFunc(chunk, func(m string) string {
			parts := strings.Split(m, ".")
			var b strings.Builder
			b.WriteString(parts[0])
			for _, p := range parts[1:] {
				b.WriteString("[")
				b.WriteString(strconv.Quote(p))
				b.WriteString("]")
			}
			return b.String()
		})
		chunk = functionCall.ReplaceAllStringFunc(chunk, func(m string) string {
			name := strings.TrimSpace(strings.TrimSuffix(m, "("))
			return "fn_" + strings.ToLower(name) + "("
		})
		return nullLiteral.ReplaceAllString(chunk, "nil")
	}, func(lit string) string {
		return strconv.Quote(strings.ReplaceAll(lit, "''", "'"))
	})
}

// walkUnquoted splits s into unquoted code and single-quoted literals and
// rebuilds it from the two callbacks. Literal contents are passed without
// the surrounding quotes.
func walkUnquoted(s string, code func(string) string, literal func(string) string) string {
	var out strings.Builder
	for len(s) > 0 {
		i := strings.IndexByte(s, '\'')
		if i < 0 {
			out.WriteString(code(s))
			break
		}
		out.WriteString(code(s[:i]))
		s = s[i+1:]

		var lit strings.Builder
		for {
			j := strings.IndexByte(s, '\'')
			if j < 0 {
				lit.WriteString(s)
				s = ""
				break
			}
			if j+1 < len(s) && s[j+1] == '\'' {
				lit.WriteString(s[:j+2])
				s = s[j+2:]
				continue
			}
			lit.WriteString(s[:j])
			s = s[j+1:]
			break
		}
		out.WriteString(literal(lit.String()))
	}
	return out.String()
}

func toAny(m map[string]string) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case int:
		return x != 0
	case float64:
		return x != 0
	default:
		return true
	}
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case bool:
		return strconv.FormatBool(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}
