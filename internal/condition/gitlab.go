package condition

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/expr-lang/expr"
)

type glKind int

const (
	glVar glKind = iota
	glString
	glRegex
	glNull
	glOp
	glAnd
	glOr
	glLParen
	glRParen
)

type glToken struct {
	kind glKind
	text string
}

// EvalGitLab evaluates a GitLab `rules:if` / `only:variables` expression.
// Undefined variables are null; a bare variable is true when it is set and
// non-empty.
func EvalGitLab(expression string, vars map[string]string) (bool, error) {
	tokens, err := lexGitLab(expression)
	if err != nil {
		return false, fmt.Errorf("rule %q: %w", expression, err)
	}
	code, err := emitGitLab(tokens)
	if err != nil {
		return false, fmt.Errorf("rule %q: %w", expression, err)
	}

	env := map[string]any{"vars": map[string]any{}}
	scope := env["vars"].(map[string]any)
	for _, t := range tokens {
		if t.kind != glVar {
			continue
		}
		if v, ok := vars[t.text]; ok {
			scope[t.text] = v
		} else {
			scope[t.text] = nil
		}
	}

	program, err := expr.Compile(code,
		expr.Function("fn_cmp", gitlabCompare),
		expr.Function("fn_present", func(p ...any) (any, error) {
			return len(p) == 1 && p[0] != nil && stringify(p[0]) != "", nil
		}),
	)
	if err != nil {
		return false, fmt.Errorf("rule %q: %w", expression, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("rule %q: %w", expression, err)
	}
	return truthy(out), nil
}

func gitlabCompare(p ...any) (any, error) {
	if len(p) != 3 {
		return nil, fmt.Errorf("compare: want 3 arguments, got %d", len(p))
	}
	lhs, op, rhs := p[0], stringify(p[1]), p[2]
	switch op {
	case "==":
		return equalNullable(lhs, rhs), nil
	case "!=":
		return !equalNullable(lhs, rhs), nil
	case "=~", "!~":
		matched := false
		if lhs != nil && rhs != nil {
			re, err := regexp.Compile(stringify(rhs))
			if err != nil {
				return nil, err
			}
			matched = re.MatchString(stringify(lhs))
		}
		if op == "!~" {
			return !matched, nil
		}
		return matched, nil
	default:
		return nil, fmt.Errorf("unknown operator %q", op)
	}
}

func equalNullable(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return stringify(a) == stringify(b)
}

func lexGitLab(s string) ([]glToken, error) {
	var out []glToken
	i := 0
	for i < len(s) {
		ch := s[i]
		switch {
		case unicode.IsSpace(rune(ch)):
			i++
		case ch == '$':
			j := i + 1
			braced := j < len(s) && s[j] == '{'
			if braced {
				j++
			}
			start := j
			for j < len(s) && (s[j] == '_' || unicode.IsLetter(rune(s[j])) || unicode.IsDigit(rune(s[j]))) {
				j++
			}
			if j == start {
				return nil, fmt.Errorf("empty variable name at %d", i)
			}
			name := s[start:j]
			if braced {
				if j >= len(s) || s[j] != '}' {
					return nil, fmt.Errorf("unterminated ${ at %d", i)
				}
				j++
			}
			out = append(out, glToken{kind: glVar, text: name})
			i = j
		case ch == '"' || ch == '\'':
			j := i + 1
			for j < len(s) && s[j] != ch {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(s) {
				return nil, fmt.Errorf("unterminated string at %d", i)
			}
			out = append(out, glToken{kind: glString, text: s[i+1 : j]})
			i = j + 1
		case ch == '/' && len(out) > 0 && out[len(out)-1].kind == glOp:
			j := i + 1
			for j < len(s) && s[j] != '/' {
				if s[j] == '\\' {
					j++
				}
				j++
			}
			if j >= len(s) {
				return nil, fmt.Errorf("unterminated regex at %d", i)
			}
			pattern := s[i+1 : j]
			j++
			flags := ""
			for j < len(s) && unicode.IsLetter(rune(s[j])) {
				flags += string(s[j])
				j++
			}
			if strings.Contains(flags, "i") {
				pattern = "(?i)" + pattern
			}
			out = append(out, glToken{kind: glRegex, text: pattern})
			i = j
		case strings.HasPrefix(s[i:], "=="), strings.HasPrefix(s[i:], "!="),
			strings.HasPrefix(s[i:], "=~"), strings.HasPrefix(s[i:], "!~"):
			out = append(out, glToken{kind: glOp, text: s[i : i+2]})
			i += 2
		case strings.HasPrefix(s[i:], "&&"):
			out = append(out, glToken{kind: glAnd})
			i += 2
		case strings.HasPrefix(s[i:], "||"):
			out = append(out, glToken{kind: glOr})
			i += 2
		case ch == '(':
			out = append(out, glToken{kind: glLParen})
			i++
		case ch == ')':
			out = append(out, glToken{kind: glRParen})
			i++
		case strings.HasPrefix(s[i:], "null"):
			out = append(out, glToken{kind: glNull})
			i += 4
		default:
			return nil, fmt.Errorf("unexpected %q at %d", ch, i)
		}
	}
	return out, nil
}

func isAtom(k glKind) bool {
	return k == glVar || k == glString || k == glRegex || k == glNull
}

func atomCode(t glToken) string {
	switch t.kind {
	case glVar:
		return "vars[" + strconv.Quote(t.text) + "]"
	case glNull:
		return "nil"
	default:
		return strconv.Quote(t.text)
	}
}

func emitGitLab(tokens []glToken) (string, error) {
	var b strings.Builder
	for i := 0; i < len(tokens); i++ {
		t := tokens[i]
		switch {
		case isAtom(t.kind):
			if i+2 < len(tokens) && tokens[i+1].kind == glOp {
				rhs := tokens[i+2]
				if !isAtom(rhs.kind) {
					return "", fmt.Errorf("operator %s needs a value on the right", tokens[i+1].text)
				}
				fmt.Fprintf(&b, "fn_cmp(%s, %q, %s)", atomCode(t), tokens[i+1].text, atomCode(rhs))
				i += 2
				continue
			}
			if t.kind == glVar {
				fmt.Fprintf(&b, "fn_present(%s)", atomCode(t))
				continue
			}
			b.WriteString(atomCode(t))
		case t.kind == glAnd:
			b.WriteString(" && ")
		case t.kind == glOr:
			b.WriteString(" || ")
		case t.kind == glLParen:
			b.WriteString("(")
		case t.kind == glRParen:
			b.WriteString(")")
		default:
			return "", fmt.Errorf("unexpected operator %s", t.text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("empty expression")
	}
	return b.String(), nil
}
