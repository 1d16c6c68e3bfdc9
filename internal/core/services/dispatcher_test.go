package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/tally/internal/core/domain"
)

func TestDispatcher_SingleCellLifecycle(t *testing.T) {
	e := newTestEngine(t, newMockExtractor(), newMockGenerator())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := e.bus.Subscribe(ctx)

	e.start(t)
	e.addControl(t, "c1", "Encryption", "Is data encrypted at rest?")
	e.addDocument(t, "d1", "policy.txt")
	e.settle(t)

	cell := e.cell(t, "d1", "c1")
	assert.Equal(t, domain.CellCompleted, cell.State)
	require.NotNil(t, cell.Result)
	assert.Contains(t, cell.Result.Text, "Is data encrypted at rest?")
	assert.InDelta(t, 0.55, cell.Result.Confidence, 0.001)
	assert.Equal(t, 1, cell.Attempts)
	assert.False(t, cell.FinishedAt.IsZero())
	assert.Equal(t, 1, e.extractor.callsFor("d1"))
	assert.Equal(t, 1, e.generator.callCount())

	var states []domain.CellState
	for len(states) < 6 {
		select {
		case ev := <-events:
			if ev.Cell.ID == cell.ID {
				states = append(states, ev.Cell.State)
			}
		case <-time.After(time.Second):
			t.Fatalf("missing events, got %v", states)
		}
	}
	assert.Equal(t, []domain.CellState{
		domain.CellPending,
		domain.CellExtractingQueued,
		domain.CellExtracting,
		domain.CellGeneratingQueued,
		domain.CellGenerating,
		domain.CellCompleted,
	}, states)
}

func TestDispatcher_RateLimitedThenSucceeds(t *testing.T) {
	rl := domain.RateLimit("generation", 0)
	e := newTestEngine(t, newMockExtractor(), newMockGenerator(rl, rl, rl))
	e.start(t)

	e.addControl(t, "c1", "Encryption", "Is data encrypted at rest?")
	e.addDocument(t, "d1", "policy.txt")
	e.settle(t)

	cell := e.cell(t, "d1", "c1")
	assert.Equal(t, domain.CellCompleted, cell.State)
	assert.Equal(t, 4, cell.Attempts)
	assert.Nil(t, cell.Failure)
	assert.Equal(t, 1, e.extractor.callsFor("d1"))
	assert.Equal(t, 4, e.generator.callCount())
}

func TestDispatcher_OneExtractionPerDocument(t *testing.T) {
	e := newTestEngine(t, newMockExtractor(), newMockGenerator())
	e.start(t)

	e.addControl(t, "c1", "Encryption", "Is data encrypted at rest?")
	e.addControl(t, "c2", "Backups", "Are backups tested?")
	e.addDocument(t, "d1", "policy.txt")
	e.settle(t)

	assert.Equal(t, domain.CellCompleted, e.cell(t, "d1", "c1").State)
	assert.Equal(t, domain.CellCompleted, e.cell(t, "d1", "c2").State)
	assert.Equal(t, 1, e.extractor.callsFor("d1"))
	assert.Equal(t, 2, e.generator.callCount())
}

func TestDispatcher_ControlAddedReusesExtraction(t *testing.T) {
	e := newTestEngine(t, newMockExtractor(), newMockGenerator())
	e.start(t)

	e.addControl(t, "c1", "Encryption", "Is data encrypted at rest?")
	e.addDocument(t, "d1", "policy.txt")
	e.settle(t)

	e.addControl(t, "c2", "Backups", "Are backups tested?")
	e.settle(t)

	assert.Equal(t, domain.CellCompleted, e.cell(t, "d1", "c2").State)
	assert.Equal(t, 1, e.extractor.callsFor("d1"))
}

func TestDispatcher_PermanentExtractionFailure(t *testing.T) {
	e := newTestEngine(t, newMockExtractor(domain.Permanent("extraction", "unsupported document")), newMockGenerator())
	e.start(t)

	e.addControl(t, "c1", "Encryption", "Is data encrypted at rest?")
	e.addControl(t, "c2", "Backups", "Are backups tested?")
	e.addDocument(t, "d1", "scan.pdf")
	e.settle(t)

	for _, id := range []string{"c1", "c2"} {
		cell := e.cell(t, "d1", id)
		assert.Equal(t, domain.CellFailed, cell.State)
		require.NotNil(t, cell.Failure)
		assert.Equal(t, domain.ErrorClassPermanent, cell.Failure.Class)
		assert.False(t, cell.Failure.Retryable)
		assert.Equal(t, 0, cell.Attempts)
	}
	assert.Equal(t, 1, e.extractor.callsFor("d1"))
	assert.Equal(t, 0, e.generator.callCount())

	// The failure is cached: a new column fails without calling again.
	e.addControl(t, "c3", "Access", "Is access reviewed?")
	e.settle(t)
	assert.Equal(t, domain.CellFailed, e.cell(t, "d1", "c3").State)
	assert.Equal(t, 1, e.extractor.callsFor("d1"))
}

func TestDispatcher_TransientExtractionExhausted(t *testing.T) {
	boom := errors.New("connection reset")
	e := newTestEngine(t, newMockExtractor(boom, boom, boom, boom, boom), newMockGenerator())
	e.start(t)

	e.addControl(t, "c1", "Encryption", "Is data encrypted at rest?")
	e.addDocument(t, "d1", "policy.txt")
	e.settle(t)

	cell := e.cell(t, "d1", "c1")
	assert.Equal(t, domain.CellFailed, cell.State)
	require.NotNil(t, cell.Failure)
	assert.Equal(t, domain.ErrorClassTransient, cell.Failure.Class)
	assert.True(t, cell.Failure.Retryable)
	assert.Equal(t, 5, e.extractor.callsFor("d1"))
}

func TestDispatcher_PermanentGenerationFailure(t *testing.T) {
	e := newTestEngine(t, newMockExtractor(), newMockGenerator(domain.Permanent("generation", "prompt rejected")))
	e.start(t)

	e.addControl(t, "c1", "Encryption", "Is data encrypted at rest?")
	e.addDocument(t, "d1", "policy.txt")
	e.settle(t)

	cell := e.cell(t, "d1", "c1")
	assert.Equal(t, domain.CellFailed, cell.State)
	assert.Equal(t, 1, cell.Attempts)
	assert.False(t, cell.Failure.Retryable)
	assert.Nil(t, cell.Result)
}

func TestDispatcher_DeletedDocumentNeverReappears(t *testing.T) {
	ext := newMockExtractor()
	ext.gate = make(chan struct{})
	e := newTestEngine(t, ext, newMockGenerator())
	e.start(t)

	e.addControl(t, "c1", "Encryption", "Is data encrypted at rest?")
	e.addDocument(t, "d1", "policy.txt")

	require.Eventually(t, func() bool { return ext.callsFor("d1") == 1 }, time.Second, 5*time.Millisecond)

	ctx := context.Background()
	require.NoError(t, e.docs.DeleteDocument(ctx, "d1"))
	reaction, err := e.reactor.Handle(ctx, domain.ChangeEvent{Kind: domain.EventDocumentRemoved, DocumentID: "d1"})
	require.NoError(t, err)
	assert.Equal(t, 1, reaction.Deleted)

	close(ext.gate)
	e.settle(t)

	_, err = e.cells.Get(ctx, "d1", "c1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	all, err := e.cells.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	_, err = e.cache.Peek(ctx, domain.ExtractionKey{DocumentID: "d1", Version: 1})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, e.generator.callCount())
}

func TestDispatcher_SupersededResultDiscarded(t *testing.T) {
	gen := newMockGenerator()
	gen.gate = make(chan struct{})
	e := newTestEngine(t, newMockExtractor(), gen)
	e.start(t)

	ctrl := e.addControl(t, "c1", "Encryption", "Is data encrypted at rest?")
	e.addDocument(t, "d1", "policy.txt")

	require.Eventually(t, func() bool { return gen.callCount() == 1 }, time.Second, 5*time.Millisecond)
	first := e.cell(t, "d1", "c1")
	assert.Equal(t, domain.CellGenerating, first.State)

	ctx := context.Background()
	ctrl.Prompt = "Is data encrypted in transit?"
	ctrl.Version = 2
	require.NoError(t, e.controls.SaveControl(ctx, ctrl))
	_, err := e.reactor.Handle(ctx, domain.ChangeEvent{Kind: domain.EventControlEdited, ControlID: "c1"})
	require.NoError(t, err)

	close(gen.gate)
	e.settle(t)

	current := e.cell(t, "d1", "c1")
	assert.NotEqual(t, first.ID, current.ID)
	assert.Equal(t, 2, current.ControlVersion)
	assert.Equal(t, domain.CellCompleted, current.State)
	assert.Contains(t, current.Result.Text, "in transit")

	history, err := e.cells.History(ctx, "d1", "c1")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, first.ID, history[0].ID)
	assert.Equal(t, domain.CellGenerating, history[0].State)
}

func TestDispatcher_DeactivatedControlWithdrawsWork(t *testing.T) {
	e := newTestEngine(t, newMockExtractor(), newMockGenerator())
	ctx := context.Background()

	ctrl := e.addControl(t, "c1", "Encryption", "Is data encrypted at rest?")
	e.addDocument(t, "d1", "policy.txt")
	assert.Equal(t, domain.CellExtractingQueued, e.cell(t, "d1", "c1").State)

	ctrl.Active = false
	require.NoError(t, e.controls.SaveControl(ctx, ctrl))

	e.start(t)
	e.settle(t)

	assert.Equal(t, domain.CellPending, e.cell(t, "d1", "c1").State)
	assert.Equal(t, 0, e.generator.callCount())

	ctrl.Active = true
	require.NoError(t, e.controls.SaveControl(ctx, ctrl))
	_, err := e.reactor.Handle(ctx, domain.ChangeEvent{Kind: domain.EventControlActivated, ControlID: "c1"})
	require.NoError(t, err)
	e.settle(t)

	assert.Equal(t, domain.CellCompleted, e.cell(t, "d1", "c1").State)
	assert.Equal(t, 1, e.extractor.callsFor("d1"))
}

func TestDispatcher_SweepReclaimsStaleCells(t *testing.T) {
	e := newTestEngine(t, newMockExtractor(), newMockGenerator())
	ctx := context.Background()

	ctrl := e.addControl(t, "c1", "Encryption", "Is data encrypted at rest?")
	doc := e.addDocument(t, "d1", "policy.txt")

	stuck := domain.NewCell("stuck", doc, ctrl, 1, time.Now())
	stuck.State = domain.CellGenerating
	stuck.StartedAt = time.Now().Add(-time.Hour)
	require.NoError(t, e.cells.Upsert(ctx, stuck))

	require.NoError(t, e.dispatcher.Sweep(ctx))

	cell := e.cell(t, "d1", "c1")
	assert.Equal(t, domain.CellFailed, cell.State)
	require.NotNil(t, cell.Failure)
	assert.True(t, cell.Failure.Retryable)
	assert.Contains(t, cell.Failure.Message, "timed out")
}

func TestDispatcher_SweepRequeuesOrphanedTasks(t *testing.T) {
	e := newTestEngine(t, newMockExtractor(), newMockGenerator())
	ctx := context.Background()

	ctrl := &domain.Control{ID: "c1", Title: "Encryption", Prompt: "Is data encrypted at rest?", Active: true, Version: 1}
	require.NoError(t, e.controls.SaveControl(ctx, ctrl))
	doc := &domain.Document{ID: "d1", Filename: "policy.txt", Version: 1}
	require.NoError(t, e.docs.SaveDocument(ctx, doc))

	// A queued cell left behind by a previous process has no task.
	orphan := domain.NewCell("orphan", doc, ctrl, 0, time.Now())
	orphan.State = domain.CellExtractingQueued
	require.NoError(t, e.cells.Upsert(ctx, orphan))
	assert.Equal(t, 0, e.dispatcher.QueueLength())

	require.NoError(t, e.dispatcher.Sweep(ctx))
	assert.Equal(t, 1, e.dispatcher.QueueLength())

	e.start(t)
	e.settle(t)

	assert.Equal(t, domain.CellCompleted, e.cell(t, "d1", "c1").State)
}

func TestDispatcher_RemovedControlLeavesNoCells(t *testing.T) {
	e := newTestEngine(t, newMockExtractor(), newMockGenerator())
	ctx := context.Background()

	e.addControl(t, "c1", "Encryption", "Is data encrypted at rest?")

	// The removal is handled while the record is still readable, so the
	// next document still gets a c1 cell.
	_, err := e.reactor.Handle(ctx, domain.ChangeEvent{Kind: domain.EventControlRemoved, ControlID: "c1"})
	require.NoError(t, err)
	e.addDocument(t, "d1", "policy.txt")
	require.NoError(t, e.controls.DeleteControl(ctx, "c1"))

	e.start(t)
	e.settle(t)
	for i := 0; i < 3; i++ {
		require.NoError(t, e.dispatcher.Sweep(ctx))
		e.settle(t)
	}

	all, err := e.cells.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Zero(t, e.dispatcher.QueueLength())
	assert.Zero(t, e.generator.callCount())
}

func TestDispatcher_SweepDeletesCellsOfMissingControl(t *testing.T) {
	e := newTestEngine(t, newMockExtractor(), newMockGenerator())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := e.bus.Subscribe(ctx)
	ctrl := &domain.Control{ID: "gone", Title: "Encryption", Prompt: "Is data encrypted at rest?", Active: true, Version: 1}
	doc := &domain.Document{ID: "d1", Filename: "policy.txt", Version: 1}
	require.NoError(t, e.docs.SaveDocument(ctx, doc))

	stranded := domain.NewCell("stranded", doc, ctrl, 0, time.Now())
	stranded.State = domain.CellGeneratingQueued
	require.NoError(t, e.cells.Upsert(ctx, stranded))

	require.NoError(t, e.dispatcher.Sweep(ctx))

	_, err := e.cells.Get(ctx, "d1", "gone")
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, e.dispatcher.QueueLength())

	select {
	case ev := <-events:
		assert.True(t, ev.Removed)
		assert.Equal(t, "stranded", ev.Cell.ID)
	case <-time.After(time.Second):
		t.Fatal("removal not published")
	}
}

func TestDispatcher_ConsistencyFailureRetriedBySweep(t *testing.T) {
	e := newTestEngine(t, newMockExtractor(), newMockGenerator())
	ctx := context.Background()

	ctrl := &domain.Control{ID: "c1", Title: "Encryption", Prompt: "Is data encrypted at rest?", Active: true, Version: 1}
	require.NoError(t, e.controls.SaveControl(ctx, ctrl))
	doc := &domain.Document{ID: "d1", Filename: "policy.txt", Version: 1}
	require.NoError(t, e.docs.SaveDocument(ctx, doc))

	// Queued for generation without any extraction on record.
	early := domain.NewCell("early", doc, ctrl, 0, time.Now())
	early.State = domain.CellGeneratingQueued
	require.NoError(t, e.cells.Upsert(ctx, early))
	require.NoError(t, e.dispatcher.Sweep(ctx))

	e.start(t)
	e.settle(t)

	cell := e.cell(t, "d1", "c1")
	assert.Equal(t, domain.CellFailed, cell.State)
	require.NotNil(t, cell.Failure)
	assert.Equal(t, domain.ErrorClassConsistency, cell.Failure.Class)
	assert.Equal(t, 0, e.generator.callCount())

	require.NoError(t, e.dispatcher.Sweep(ctx))
	e.settle(t)

	cell = e.cell(t, "d1", "c1")
	assert.Equal(t, domain.CellCompleted, cell.State)
	assert.Equal(t, "early", cell.ID)
}

func TestDispatcher_SubmitSkipsNonPending(t *testing.T) {
	e := newTestEngine(t, newMockExtractor(), newMockGenerator())
	ctx := context.Background()

	ctrl := e.addControl(t, "c1", "Encryption", "Is data encrypted at rest?")
	doc := e.addDocument(t, "d1", "policy.txt")
	assert.Equal(t, 1, e.dispatcher.QueueLength())

	completed := domain.NewCell("done", doc, ctrl, 0, time.Now())
	completed.State = domain.CellCompleted
	require.NoError(t, e.dispatcher.Submit(ctx, []domain.Cell{*completed}))
	assert.Equal(t, 1, e.dispatcher.QueueLength())
}

func TestDispatcher_StopIsIdempotent(t *testing.T) {
	e := newTestEngine(t, newMockExtractor(), newMockGenerator())
	assert.NoError(t, e.dispatcher.Stop())

	e.start(t)
	require.Eventually(t, func() bool {
		e.dispatcher.mu.Lock()
		defer e.dispatcher.mu.Unlock()
		return e.dispatcher.running
	}, time.Second, 5*time.Millisecond)
	assert.NoError(t, e.dispatcher.Stop())
	assert.NoError(t, e.dispatcher.Stop())
}
