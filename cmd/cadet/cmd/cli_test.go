package cmd

import (
	"strings"
	"testing"

	"github.com/cadops/cadet/pkg/lifecycle"
	"github.com/cadops/cadet/pkg/model"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHookScripts(t *testing.T) {
	for _, event := range hookEvents {
		script := hookScript(event)
		assert.True(t, strings.HasPrefix(script, "#!/bin/sh\n"))
		assert.Contains(t, script, hookSignature)
		assert.Contains(t, script, "cadet hook "+string(event)+" \"$@\"")
	}
}

func TestOwnedHook(t *testing.T) {
	fs := afero.NewMemMapFs()

	owned, exists := ownedHook(fs, "hooks/pre-commit")
	assert.False(t, owned)
	assert.False(t, exists)

	require.NoError(t, afero.WriteFile(fs, "hooks/pre-commit",
		[]byte(hookScript(model.EventPreCommit)), 0755))
	owned, exists = ownedHook(fs, "hooks/pre-commit")
	assert.True(t, owned)
	assert.True(t, exists)

	require.NoError(t, afero.WriteFile(fs, "hooks/pre-push",
		[]byte("#!/bin/sh\nexec some-other-tool\n"), 0755))
	owned, exists = ownedHook(fs, "hooks/pre-push")
	assert.False(t, owned)
	assert.True(t, exists)
}

func TestExitOutcome(t *testing.T) {
	defer func(f func(int)) { osExit = f }(osExit)

	var code *int
	osExit = func(c int) { code = &c }

	exitOutcome(lifecycle.Outcome{Code: lifecycle.CodeAllow})
	assert.Nil(t, code, "an allowed outcome must not exit")

	exitOutcome(lifecycle.Outcome{Code: lifecycle.CodeBlocked, Reason: "lock not held"})
	require.NotNil(t, code)
	assert.Equal(t, lifecycle.CodeBlocked, *code)

	code = nil
	exitOutcome(lifecycle.Outcome{Code: lifecycle.CodeInternal, Reason: "boom"})
	require.NotNil(t, code)
	assert.Equal(t, lifecycle.CodeInternal, *code)
}
