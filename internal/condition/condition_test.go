package condition

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func pushContext(ref string) Context {
	return Context{
		GitHub: map[string]any{"event_name": "push", "ref": ref, "ref_name": "dev"},
		Matrix: map[string]string{"os": "ubuntu-latest", "python-version": "3.9"},
		Env:    map[string]string{"DISPLAY": ":99"},
	}
}

func TestEval_ImplicitSuccess(t *testing.T) {
	c := pushContext("refs/heads/dev")

	ok, err := Eval("", c)
	require.NoError(t, err)
	assert.True(t, ok)

	c.Status.Failed = true
	ok, err = Eval("github.event_name == 'push'", c)
	require.NoError(t, err)
	assert.False(t, ok, "a failed dependency must gate a condition without status function")

	ok, err = Eval("${{ always() }}", c)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Eval("failure()", c)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEval_BranchConditionForCoverage(t *testing.T) {
	cond := "github.event_name == 'push' && github.ref == 'refs/heads/dev'"

	ok, err := Eval(cond, pushContext("refs/heads/dev"))
	require.NoError(t, err)
	assert.True(t, ok)

	pr := Context{GitHub: map[string]any{"event_name": "pull_request", "ref": "refs/pull/7/merge"}}
	ok, err = Eval(cond, pr)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEval_HyphenatedMatrixKeysAndFunctions(t *testing.T) {
	c := pushContext("refs/tags/v1.2.3")

	ok, err := Eval("matrix.python-version == '3.9' && startsWith(github.ref, 'refs/tags/v')", c)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Eval("contains(matrix.os, 'UBUNTU')", c)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = Eval("env.MISSING == null", c)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestEval_QuotedTextIsNotRewritten(t *testing.T) {
	c := pushContext("refs/heads/dev")
	v, err := Value("format('{0} says ''always()'' on matrix.os', matrix.os)", c)
	require.NoError(t, err)
	assert.Equal(t, "ubuntu-latest says 'always()' on matrix.os", v)
	assert.False(t, HasStatusFunction("github.ref == 'always()'"))
}

func TestInterpolate(t *testing.T) {
	c := pushContext("refs/heads/dev")
	out, err := Interpolate("minegauler-${{ matrix.os }}-py${{ matrix.python-version }}.zip", c)
	require.NoError(t, err)
	assert.Equal(t, "minegauler-ubuntu-latest-py3.9.zip", out)

	out, err = Interpolate("plain", c)
	require.NoError(t, err)
	assert.Equal(t, "plain", out)
}

func TestEvalGitLab(t *testing.T) {
	vars := map[string]string{
		"CI_COMMIT_BRANCH":   "master",
		"CI_PIPELINE_SOURCE": "push",
		"CI_COMMIT_REF_NAME": "master",
	}

	cases := []struct {
		expr string
		want bool
	}{
		{`$CI_COMMIT_BRANCH == "master"`, true},
		{`$CI_COMMIT_BRANCH != "master"`, false},
		{`$CI_COMMIT_TAG`, false},
		{`$CI_COMMIT_TAG == null`, true},
		{`$CI_COMMIT_TAG =~ /^v\d+/`, false},
		{`$CI_COMMIT_REF_NAME =~ /^MAST/i`, true},
		{`$CI_COMMIT_REF_NAME !~ /^dev/`, true},
		{`($CI_PIPELINE_SOURCE == "push" && $CI_COMMIT_BRANCH) || $CI_COMMIT_TAG`, true},
		{`${CI_COMMIT_BRANCH} == 'dev'`, false},
	}
	for _, tc := range cases {
		got, err := EvalGitLab(tc.expr, vars)
		require.NoError(t, err, tc.expr)
		assert.Equal(t, tc.want, got, tc.expr)
	}
}

func TestEvalGitLab_Errors(t *testing.T) {
	for _, bad := range []string{``, `$A ==`, `"open`, `$A =~ /x`, `$A % 2`} {
		_, err := EvalGitLab(bad, nil)
		assert.Error(t, err, bad)
	}
}
