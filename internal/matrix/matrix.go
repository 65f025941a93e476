// Package matrix expands a job matrix into its combinations.
package matrix

import (
	"strings"

	"github.com/davarch/ci-orchestrator/internal/domain"
)

// Expand returns the matrix combinations in a stable order: the cross
// product of the axes with the first axis outermost, minus excluded cells,
// then include entries merged or appended. An empty matrix yields a single
// empty combination so every job has at least one instance.
func Expand(m domain.Matrix) []domain.Combination {
	if m.Empty() {
		return []domain.Combination{nil}
	}

	if len(m.Axes) == 0 {
		out := make([]domain.Combination, 0, len(m.Include))
		for _, inc := range m.Include {
			out = append(out, clone(inc))
		}
		return out
	}

	base := product(m.Axes)
	kept := base[:0]
	for _, c := range base {
		if !excluded(c, m.Exclude) {
			kept = append(kept, c)
		}
	}

	axisNames := make(map[string]struct{}, len(m.Axes))
	for _, a := range m.Axes {
		axisNames[a.Name] = struct{}{}
	}

	original := len(kept)
	for _, inc := range m.Include {
		merged := false
		for i := 0; i < original; i++ {
			if !compatible(kept[i], inc, axisNames) {
				continue
			}
			kept[i] = merge(kept[i], inc, axisNames)
			merged = true
		}
		if !merged {
			kept = append(kept, clone(inc))
		}
	}
	return kept
}

// Count is len(Expand(m)) without keeping the combinations around.
func Count(m domain.Matrix) int { return len(Expand(m)) }

// InstanceName renders the display name of one matrix cell of a job,
// e.g. "build (ubuntu-latest, 3.9)".
func InstanceName(job string, c domain.Combination) string {
	if len(c) == 0 {
		return job
	}
	return job + " (" + strings.Join(c.Values(), ", ") + ")"
}

func product(axes []domain.Axis) []domain.Combination {
	out := []domain.Combination{nil}
	for _, a := range axes {
		next := make([]domain.Combination, 0, len(out)*len(a.Values))
		for _, c := range out {
			for _, v := range a.Values {
				cell := make(domain.Combination, len(c), len(c)+1)
				copy(cell, c)
				next = append(next, append(cell, domain.Pair{Key: a.Name, Value: v}))
			}
		}
		out = next
	}
	return out
}

func excluded(c domain.Combination, rules []domain.Combination) bool {
	for _, r := range rules {
		if len(r) == 0 {
			continue
		}
		all := true
		for _, p := range r {
			if v, ok := c.Get(p.Key); !ok || v != p.Value {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// compatible reports whether inc can be added to c without overwriting one
// of c's axis values.
func compatible(c, inc domain.Combination, axes map[string]struct{}) bool {
	for _, p := range inc {
		if _, isAxis := axes[p.Key]; !isAxis {
			continue
		}
		if v, _ := c.Get(p.Key); v != p.Value {
			return false
		}
	}
	return true
}

func merge(c, inc domain.Combination, axes map[string]struct{}) domain.Combination {
	out := clone(c)
	for _, p := range inc {
		if _, isAxis := axes[p.Key]; isAxis {
			continue
		}
		replaced := false
		for i := range out {
			if out[i].Key == p.Key {
				out[i].Value = p.Value
				replaced = true
			}
		}
		if !replaced {
			out = append(out, p)
		}
	}
	return out
}

func clone(c domain.Combination) domain.Combination {
	if c == nil {
		return nil
	}
	return append(domain.Combination(nil), c...)
}
