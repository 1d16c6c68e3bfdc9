package services

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tally/internal/adapters/driven/storage/memory"
	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
)

// --- Mock external services ---

// mockExtractor implements driven.Extractor with scripted failures.
type mockExtractor struct {
	mu    sync.Mutex
	calls map[string]int
	errs  []error

	// gate, when set, blocks every call until closed.
	gate chan struct{}
}

func newMockExtractor(errs ...error) *mockExtractor {
	return &mockExtractor{calls: make(map[string]int), errs: errs}
}

func (m *mockExtractor) Name() string { return "mock" }

func (m *mockExtractor) Extract(ctx context.Context, doc *domain.Document) (*domain.ExtractionResult, error) {
	m.mu.Lock()
	m.calls[doc.ID]++
	var err error
	if len(m.errs) > 0 {
		err, m.errs = m.errs[0], m.errs[1:]
	}
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &domain.ExtractionResult{
		Text: "content of " + doc.Filename,
		Citations: []domain.Citation{
			{ID: "1", Page: 1, Text: fmt.Sprintf("%s v%d", doc.Filename, doc.Version)},
		},
	}, nil
}

func (m *mockExtractor) callsFor(documentID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[documentID]
}

func (m *mockExtractor) totalCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.calls {
		total += n
	}
	return total
}

// mockGenerator implements driven.Generator with scripted failures.
type mockGenerator struct {
	mu       sync.Mutex
	calls    int
	errs     []error
	requests []driven.GenerationRequest

	// gate, when set, blocks every call until closed.
	gate chan struct{}
}

func newMockGenerator(errs ...error) *mockGenerator {
	return &mockGenerator{errs: errs}
}

func (m *mockGenerator) ModelName() string { return "mock-model" }

func (m *mockGenerator) Generate(ctx context.Context, req driven.GenerationRequest) (*domain.Answer, error) {
	m.mu.Lock()
	m.calls++
	m.requests = append(m.requests, req)
	var err error
	if len(m.errs) > 0 {
		err, m.errs = m.errs[0], m.errs[1:]
	}
	gate := m.gate
	m.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &domain.Answer{
		Text:      "The document clearly states: " + req.Prompt,
		Citations: req.Content.Citations,
		Model:     "mock-model",
	}, nil
}

func (m *mockGenerator) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// fastPolicy retries without sleeping.
func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    maxAttempts,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Multiplier:     2,
		Sleep:          func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
}

// --- Engine harness ---

type testEngine struct {
	docs        *memory.DocumentStore
	controls    *memory.ControlStore
	cells       *memory.CellStore
	extractions *memory.ExtractionStore

	extractor *mockExtractor
	generator *mockGenerator

	bus        *EventBus
	cache      *ExtractionCache
	dispatcher *Dispatcher
	reactor    *Reactor
}

// newTestEngine wires the engine over memory stores. The dispatcher is
// not started; call start to run workers.
func newTestEngine(t *testing.T, extractor *mockExtractor, generator *mockGenerator) *testEngine {
	t.Helper()

	e := &testEngine{
		docs:        memory.NewDocumentStore(),
		controls:    memory.NewControlStore(),
		cells:       memory.NewCellStore(),
		extractions: memory.NewExtractionStore(),
		extractor:   extractor,
		generator:   generator,
		bus:         NewEventBus(),
	}

	unlimited := NewTokenBudget(domain.RateSettings{})
	extractGW := NewExtractionGateway(extractor, fastPolicy(5), unlimited, time.Second)
	generateGW := NewGenerationGateway(generator, fastPolicy(5), unlimited, time.Second)

	e.cache = NewExtractionCache(extractGW, e.extractions, 0)
	e.dispatcher = NewDispatcher(e.cells, e.docs, e.controls, e.cache, generateGW, e.bus, domain.EngineSettings{
		Concurrency: 4,
		StaleAfter:  time.Minute,
	})
	e.reactor = NewReactor(e.cells, e.docs, e.controls, e.cache, e.dispatcher, e.bus)
	return e
}

// start runs the dispatcher until the test ends.
func (e *testEngine) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = e.dispatcher.Start(ctx)
	}()
	t.Cleanup(func() {
		_ = e.dispatcher.Stop()
		cancel()
		<-done
	})
}

// settle waits until the dispatcher has nothing queued or running.
func (e *testEngine) settle(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, e.dispatcher.WaitIdle(ctx))
}

func (e *testEngine) addDocument(t *testing.T, id, filename string) *domain.Document {
	t.Helper()
	now := time.Now()
	doc := &domain.Document{
		ID:          id,
		Filename:    filename,
		ContentType: "text/plain",
		StorageRef:  "blob://" + id,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, e.docs.SaveDocument(context.Background(), doc))
	_, err := e.reactor.Handle(context.Background(), domain.ChangeEvent{Kind: domain.EventDocumentAdded, DocumentID: id})
	require.NoError(t, err)
	return doc
}

func (e *testEngine) replaceDocument(t *testing.T, id string) *domain.Document {
	t.Helper()
	doc, err := e.docs.GetDocument(context.Background(), id)
	require.NoError(t, err)
	doc.Version++
	doc.UpdatedAt = time.Now()
	require.NoError(t, e.docs.SaveDocument(context.Background(), doc))
	_, err = e.reactor.Handle(context.Background(), domain.ChangeEvent{Kind: domain.EventDocumentReplaced, DocumentID: id})
	require.NoError(t, err)
	return doc
}

func (e *testEngine) addControl(t *testing.T, id, title, prompt string) *domain.Control {
	t.Helper()
	now := time.Now()
	ctrl := &domain.Control{
		ID:        id,
		Title:     title,
		Prompt:    prompt,
		Active:    true,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, e.controls.SaveControl(context.Background(), ctrl))
	_, err := e.reactor.Handle(context.Background(), domain.ChangeEvent{Kind: domain.EventControlAdded, ControlID: id})
	require.NoError(t, err)
	return ctrl
}

func (e *testEngine) cell(t *testing.T, documentID, controlID string) *domain.Cell {
	t.Helper()
	c, err := e.cells.Get(context.Background(), documentID, controlID)
	require.NoError(t, err)
	return c
}
