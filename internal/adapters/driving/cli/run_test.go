package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_UntilIdle(t *testing.T) {
	env := setupTestServices(t)
	require.NoError(t, env.config.Set("generation.api_key", "sk-test"))
	seedGrid(t, env)

	out, err := execute(t, "run", "--until-idle", "--quiet")

	require.NoError(t, err)
	assert.True(t, env.engine.wasStarted())
	assert.Contains(t, out, "Done: 1 of 2 cells processed (50.0%)")
}

func TestRun_RequiresSettings(t *testing.T) {
	setupTestServices(t)

	_, err := execute(t, "run", "--until-idle")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "settings incomplete")
}

func TestRun_RejectsWatchWithUntilIdle(t *testing.T) {
	setupTestServices(t)

	_, err := execute(t, "run", "--until-idle", "--watch", t.TempDir())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be combined")
}

func TestStartEngine_ReportsExit(t *testing.T) {
	env := setupTestServices(t)

	done := startEngine(t.Context())
	require.Eventually(t, env.engine.wasStarted, time.Second, 10*time.Millisecond)
	require.NoError(t, engine.Stop())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("engine did not exit")
	}
}

func TestShort(t *testing.T) {
	assert.Equal(t, "abc", short("abc"))
	assert.Equal(t, "12345678", short("123456789abc"))
}
