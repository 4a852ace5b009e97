package conversation

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func startFlowWatcher(t *testing.T, env *testEnv, path string) {
	t.Helper()
	w, err := NewFlowWatcher(path, env.engine, env.logs.Underlying())
	require.NoError(t, err)
	require.NoError(t, w.Start(context.Background()))
	t.Cleanup(w.Stop)
}

// saveFlow replaces path the way editors do: write a temp file, then rename.
func saveFlow(t *testing.T, path, content string) {
	t.Helper()
	tmp := path + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(content), 0o600))
	require.NoError(t, os.Rename(tmp, path))
}

func TestFlowWatcher_ReloadsWelcome(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(path, []byte("welcome: Olá do arquivo.\n"), 0o600))
	startFlowWatcher(t, env, path)

	ctx := context.Background()
	resp, err := env.engine.Start(ctx, testSessionID)
	require.NoError(t, err)
	assert.Contains(t, resp.Response, "Bem-vindo ao m.lima", "a file present at start is loaded by the caller, not the watcher")

	saveFlow(t, path, "welcome: Texto novo, recarregado.\n")

	require.Eventually(t, func() bool {
		resp, err := env.engine.Start(ctx, testSessionID)
		return err == nil && strings.Contains(resp.Response, "Texto novo, recarregado.")
	}, 5*time.Second, 20*time.Millisecond)
	env.logs.AssertLogged(t, zapcore.InfoLevel, "flow reloaded")
}

func TestFlowWatcher_InvalidFileKeepsCurrentTexts(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(t.TempDir(), "flow.yaml")
	startFlowWatcher(t, env, path)

	saveFlow(t, path, "completion: Até logo, {name}.\n")
	require.Eventually(t, func() bool {
		return env.engine.texts().Completion == "Até logo, {name}."
	}, 5*time.Second, 20*time.Millisecond)

	saveFlow(t, path, "system_error: \"\"\n")
	require.Eventually(t, func() bool {
		return env.logs.FilterMessage("flow reload rejected, keeping current texts").Len() > 0
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, "Até logo, {name}.", env.engine.texts().Completion)
	assert.Equal(t, DefaultFlow().SystemError, env.engine.texts().SystemError)
}

func TestFlowWatcher_IgnoresOtherFiles(t *testing.T) {
	env := newTestEnv(t)
	dir := t.TempDir()
	startFlowWatcher(t, env, filepath.Join(dir, "flow.yaml"))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("welcome: Outro.\n"), 0o600))
	saveFlow(t, filepath.Join(dir, "flow.yaml"), "busy: Um momento.\n")
	require.Eventually(t, func() bool {
		return env.engine.texts().Busy == "Um momento."
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, DefaultFlow().Welcome, env.engine.texts().Welcome)
}

func TestEngine_SetFlowRejectsInvalid(t *testing.T) {
	env := newTestEnv(t)

	bad := DefaultFlow()
	bad.Completion = " "
	assert.Error(t, env.engine.SetFlow(bad))
	assert.Equal(t, DefaultFlow().Completion, env.engine.texts().Completion)

	good := DefaultFlow()
	good.Completion = "Feito, {name}."
	require.NoError(t, env.engine.SetFlow(good))
	assert.Equal(t, "Feito, {name}.", env.engine.texts().Completion)
}

func TestNewFlowWatcher_MissingDirectory(t *testing.T) {
	env := newTestEnv(t)
	w, err := NewFlowWatcher(filepath.Join(t.TempDir(), "absent", "flow.yaml"), env.engine, nil)
	require.NoError(t, err)
	assert.Error(t, w.Start(context.Background()))
	w.Stop()
}
