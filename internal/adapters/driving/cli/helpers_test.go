package cli

import (
	"bytes"
	"context"
	"sync"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/custodia-labs/tally/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/services"
)

// stubHandler records change events and answers with a fixed reaction.
type stubHandler struct {
	mu       sync.Mutex
	events   []domain.ChangeEvent
	reaction domain.Reaction
}

func (h *stubHandler) Handle(_ context.Context, ev domain.ChangeEvent) (*domain.Reaction, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	r := h.reaction
	return &r, nil
}

func (h *stubHandler) kinds() []domain.EventKind {
	h.mu.Lock()
	defer h.mu.Unlock()
	kinds := make([]domain.EventKind, 0, len(h.events))
	for _, ev := range h.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

// stubEngine blocks in Start until stopped.
type stubEngine struct {
	mu      sync.Mutex
	started bool
	stopped chan struct{}
	once    sync.Once
}

func newStubEngine() *stubEngine {
	return &stubEngine{stopped: make(chan struct{})}
}

func (e *stubEngine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.started = true
	e.mu.Unlock()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return nil
	}
}

func (e *stubEngine) Stop() error {
	e.once.Do(func() { close(e.stopped) })
	return nil
}

func (e *stubEngine) WaitIdle(context.Context) error { return nil }

func (e *stubEngine) Sweep(context.Context) error { return nil }

func (e *stubEngine) wasStarted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.started
}

// testEnv holds the stores behind the services installed for a test.
type testEnv struct {
	docs     *memory.DocumentStore
	controls *memory.ControlStore
	cells    *memory.CellStore
	config   *memory.ConfigStore
	handler  *stubHandler
	engine   *stubEngine
	bus      *services.EventBus
}

// setupTestServices installs real services over memory stores and resets
// command flags. Both are undone when the test ends.
func setupTestServices(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		docs:     memory.NewDocumentStore(),
		controls: memory.NewControlStore(),
		cells:    memory.NewCellStore(),
		config:   memory.NewConfigStore(),
		handler:  &stubHandler{},
		engine:   newStubEngine(),
		bus:      services.NewEventBus(),
	}
	limits := domain.DefaultAppSettings().Upload

	SetServices(&Services{
		Document: services.NewDocumentService(env.docs, memory.NewBlobStore(), env.handler, limits),
		Control:  services.NewControlService(env.controls, env.handler),
		Grid:     services.NewGridService(env.docs, env.controls, env.cells, env.handler, env.bus),
		Settings: services.NewSettingsService(env.config),
		Engine:   env.engine,
	})
	resetFlags(rootCmd)

	t.Cleanup(func() {
		SetServices(&Services{})
		resetFlags(rootCmd)
		rootCmd.SetArgs(nil)
		rootCmd.SetIn(nil)
	})
	return env
}

// resetFlags restores every flag in the command tree to its default.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// execute runs the root command with args and returns the combined output.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func seedControl(t *testing.T, title, prompt string) *domain.Control {
	t.Helper()
	ctrl, err := controlService.Create(context.Background(), domain.ControlInput{Title: title, Prompt: prompt})
	if err != nil {
		t.Fatalf("seed control: %v", err)
	}
	return ctrl
}
