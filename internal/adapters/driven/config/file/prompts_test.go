package file

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tally/internal/core/ports/driven"
)

func TestPromptStore_ImplementsInterface(t *testing.T) {
	var _ driven.PromptStore = (*PromptStore)(nil)
}

func TestNewPromptStore_WithCustomDir(t *testing.T) {
	dir := t.TempDir()

	store, err := NewPromptStore(dir)

	require.NoError(t, err)
	assert.Equal(t, dir, store.Dir())
}

func TestPromptStore_Load_CreatesDefaultFiles(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPromptStore(dir)
	require.NoError(t, err)

	_, err = store.Load(driven.PromptAnswerSystem)
	require.NoError(t, err)

	for _, f := range []string{"answer_system.txt", "answer_user.txt", "README.md"} {
		_, err := os.Stat(filepath.Join(dir, f))
		assert.NoError(t, err, "expected file %s to exist", f)
	}
}

func TestPromptStore_Load_ReturnsDefaultContent(t *testing.T) {
	store, err := NewPromptStore(t.TempDir())
	require.NoError(t, err)

	prompt, err := store.Load(driven.PromptAnswerUser)

	require.NoError(t, err)
	assert.Equal(t, defaultPrompts[driven.PromptAnswerUser], prompt)
}

func TestPromptStore_Load_ReturnsCustomContent(t *testing.T) {
	dir := t.TempDir()
	custom := "Question: %s\nContext: %s\nDocument: %s"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "answer_user.txt"), []byte(custom+"\n\n"), 0600))
	store, err := NewPromptStore(dir)
	require.NoError(t, err)

	prompt, err := store.Load(driven.PromptAnswerUser)

	require.NoError(t, err)
	assert.Equal(t, custom, prompt)
}

func TestPromptStore_Load_RejectsBrokenPlaceholders(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "answer_user.txt"), []byte("Answer: %s"), 0600))
	store, err := NewPromptStore(dir)
	require.NoError(t, err)

	prompt, err := store.Load(driven.PromptAnswerUser)

	require.NoError(t, err)
	assert.Equal(t, defaultPrompts[driven.PromptAnswerUser], prompt)
}

func TestPromptStore_Load_FallsBackWhenFileDeleted(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPromptStore(dir)
	require.NoError(t, err)
	_, _ = store.Load(driven.PromptAnswerSystem)
	require.NoError(t, os.Remove(filepath.Join(dir, "answer_system.txt")))

	prompt, err := store.Load(driven.PromptAnswerSystem)

	require.NoError(t, err)
	assert.Equal(t, defaultPrompts[driven.PromptAnswerSystem], prompt)
}

func TestPromptStore_Load_UnknownPrompt(t *testing.T) {
	store, err := NewPromptStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load("summarise")

	assert.Error(t, err)
}

func TestPromptStore_Reload_PicksUpEdits(t *testing.T) {
	dir := t.TempDir()
	store, err := NewPromptStore(dir)
	require.NoError(t, err)
	_, err = store.Load(driven.PromptAnswerSystem)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "answer_system.txt"), []byte("Be brief."), 0600))
	cached, err := store.Load(driven.PromptAnswerSystem)
	require.NoError(t, err)
	assert.Equal(t, defaultPrompts[driven.PromptAnswerSystem], cached)

	store.Reload()
	prompt, err := store.Load(driven.PromptAnswerSystem)
	require.NoError(t, err)
	assert.Equal(t, "Be brief.", prompt)
}

func TestPromptStore_DoesNotOverwriteExistingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "answer_system.txt")
	require.NoError(t, os.WriteFile(path, []byte("mine"), 0600))
	store, err := NewPromptStore(dir)
	require.NoError(t, err)

	_, _ = store.Load(driven.PromptAnswerUser)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "mine", string(data))
}

func TestPromptStore_Load_ConcurrentAccess(t *testing.T) {
	store, err := NewPromptStore(t.TempDir())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			prompt, err := store.Load(driven.PromptAnswerUser)
			assert.NoError(t, err)
			assert.NotEmpty(t, prompt)
		}()
	}
	wg.Wait()
}
