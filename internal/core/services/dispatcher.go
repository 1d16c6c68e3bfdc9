package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/custodia-labs/tally/internal/core/domain"
	"github.com/custodia-labs/tally/internal/core/ports/driven"
	"github.com/custodia-labs/tally/internal/core/ports/driving"
	"github.com/custodia-labs/tally/internal/logger"
)

// Ensure Dispatcher implements the interface.
var _ driving.Engine = (*Dispatcher)(nil)

// idlePollInterval is how often WaitIdle checks the queue.
const idlePollInterval = 10 * time.Millisecond

// Dispatcher routes pending cells to extraction or generation work and
// runs that work on a bounded worker pool.
//
// Every state change goes through CellStore.MarkState against a specific
// cell instance, so a task for a superseded or deleted cell fails its
// transition and its result is dropped.
type Dispatcher struct {
	cells      driven.CellStore
	documents  driven.DocumentStore
	controls   driven.ControlStore
	cache      *ExtractionCache
	generation *GenerationGateway
	bus        *EventBus
	settings   domain.EngineSettings
	log        logger.Component
	now        func() time.Time

	queue *taskQueue

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// NewDispatcher creates a dispatcher. bus may be nil.
func NewDispatcher(
	cells driven.CellStore,
	documents driven.DocumentStore,
	controls driven.ControlStore,
	cache *ExtractionCache,
	generation *GenerationGateway,
	bus *EventBus,
	settings domain.EngineSettings,
) *Dispatcher {
	if settings.Concurrency < 1 {
		settings.Concurrency = 1
	}
	return &Dispatcher{
		cells:      cells,
		documents:  documents,
		controls:   controls,
		cache:      cache,
		generation: generation,
		bus:        bus,
		settings:   settings,
		log:        logger.With("dispatcher"),
		now:        time.Now,
		queue:      newTaskQueue(),
	}
}

// Start runs a recovery sweep, then the worker pool and periodic sweep.
// Blocks until Stop is called or ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = true
	d.stopCh = make(chan struct{})
	stopCh := d.stopCh
	d.mu.Unlock()

	if err := d.Sweep(ctx); err != nil {
		d.log.Error("recovery sweep failed: %v", err)
	}

	for i := 0; i < d.settings.Concurrency; i++ {
		d.wg.Add(1)
		go d.worker(ctx, stopCh)
	}
	d.log.Info("started %d workers", d.settings.Concurrency)

	var tick <-chan time.Time
	if d.settings.SweepInterval > 0 {
		ticker := time.NewTicker(d.settings.SweepInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stopCh:
			return nil
		case <-tick:
			if err := d.Sweep(ctx); err != nil {
				d.log.Error("sweep failed: %v", err)
			}
		}
	}
}

// Stop signals the workers to exit and waits for running tasks to finish.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	close(d.stopCh)
	d.mu.Unlock()

	d.wg.Wait()
	return nil
}

// WaitIdle blocks until no task is queued or running.
func (d *Dispatcher) WaitIdle(ctx context.Context) error {
	ticker := time.NewTicker(idlePollInterval)
	defer ticker.Stop()
	for {
		if d.queue.Idle() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// QueueLength returns the number of tasks waiting for a worker.
func (d *Dispatcher) QueueLength() int {
	return d.queue.Len()
}

// Submit routes pending cells. A cell whose document extraction is cached
// goes straight to generation; the rest wait for one extract task per
// document version. Cells that are not pending are skipped.
func (d *Dispatcher) Submit(ctx context.Context, cells []domain.Cell) error {
	for i := range cells {
		cell := &cells[i]
		if cell.State != domain.CellPending {
			continue
		}

		key := cell.ExtractionKey()
		to := domain.CellExtractingQueued
		if d.cache.Ready(ctx, key) {
			to = domain.CellGeneratingQueued
		}

		updated, err := d.transition(ctx, cell, domain.StateChange{To: to})
		if err != nil {
			if isLostRace(err) {
				continue
			}
			return fmt.Errorf("failed to queue cell %s: %w", cell.ID, err)
		}

		if to == domain.CellGeneratingQueued {
			d.queue.Push(domain.GenerateTask(updated, d.now()))
		} else {
			d.queue.Push(domain.ExtractTask(key, d.now()))
		}
	}
	return nil
}

// Sweep reconciles stored cell states with the task queue. It reclaims
// in-flight cells older than the stale threshold as retryable failures,
// requeues queued cells that lost their task (e.g. after a restart),
// retries consistency failures and routes pending cells of active controls.
// Cells whose control no longer exists are deleted.
func (d *Dispatcher) Sweep(ctx context.Context) error {
	all, err := d.cells.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cells: %w", err)
	}

	// Listed after the cells, so a control missing here was removed.
	active, err := d.controlStates(ctx)
	if err != nil {
		return err
	}

	now := d.now()
	var pending []domain.Cell
	var reclaimed, requeued int
	orphaned := make(map[string]bool)

	for i := range all {
		cell := &all[i]
		if _, ok := active[cell.ControlID]; !ok {
			orphaned[cell.ControlID] = true
			continue
		}
		switch {
		case cell.IsStale(now, d.settings.StaleAfter):
			failure := &domain.CellFailure{
				Class:     domain.ErrorClassTransient,
				Message:   fmt.Sprintf("timed out while %s", cell.State),
				Retryable: true,
			}
			if _, err := d.transition(ctx, cell, domain.StateChange{To: domain.CellFailed, Failure: failure}); err == nil {
				reclaimed++
			}

		case cell.State == domain.CellExtractingQueued:
			task := domain.ExtractTask(cell.ExtractionKey(), now)
			if !d.queue.Has(task.Key()) && d.queue.Push(task) {
				requeued++
			}

		case cell.State == domain.CellGeneratingQueued:
			task := domain.GenerateTask(cell, now)
			if !d.queue.Has(task.Key()) && d.queue.Push(task) {
				requeued++
			}

		case cell.State == domain.CellFailed && cell.Failure != nil &&
			cell.Failure.Class == domain.ErrorClassConsistency:
			if !active[cell.ControlID] {
				continue
			}
			updated, err := d.transition(ctx, cell, domain.StateChange{To: domain.CellPending})
			if err == nil {
				pending = append(pending, *updated)
			}

		case cell.State == domain.CellPending && active[cell.ControlID]:
			pending = append(pending, *cell)
		}
	}

	for controlID := range orphaned {
		if err := d.removeColumn(ctx, controlID); err != nil {
			return err
		}
	}

	if reclaimed > 0 || requeued > 0 || len(pending) > 0 || len(orphaned) > 0 {
		d.log.Info("sweep: reclaimed %d, requeued %d, routing %d pending, removed %d orphaned columns",
			reclaimed, requeued, len(pending), len(orphaned))
	}
	return d.Submit(ctx, pending)
}

// worker runs tasks until stopped.
func (d *Dispatcher) worker(ctx context.Context, stopCh <-chan struct{}) {
	defer d.wg.Done()
	for {
		if task, ok := d.queue.TryPop(); ok {
			d.run(ctx, task)
			d.queue.Done(task)
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case <-d.queue.Ready():
		}
	}
}

// run executes one task, containing panics to the task.
func (d *Dispatcher) run(ctx context.Context, task domain.DispatchTask) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("task %s panicked: %v", task.Key(), r)
		}
	}()

	var err error
	switch task.Kind {
	case domain.TaskExtract:
		err = d.runExtract(ctx, task)
	case domain.TaskGenerate:
		err = d.runGenerate(ctx, task)
	default:
		err = fmt.Errorf("unknown task kind %q", task.Kind)
	}
	if err != nil {
		d.log.Error("task %s: %v", task.Key(), err)
	}
}

// runExtract fetches a document version's extraction on behalf of every
// cell waiting for it, then queues their generation.
func (d *Dispatcher) runExtract(ctx context.Context, task domain.DispatchTask) error {
	doc, err := d.documents.GetDocument(ctx, task.DocumentID)
	if errors.Is(err, domain.ErrNotFound) {
		d.log.Debug("dropping %s: document removed", task.Key())
		if _, err := d.cells.DeleteByDocument(ctx, task.DocumentID); err != nil {
			return fmt.Errorf("failed to delete orphaned cells: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load document: %w", err)
	}
	if doc.Version != task.DocumentVersion {
		d.log.Debug("dropping %s: document is at v%d", task.Key(), doc.Version)
		return nil
	}

	rowCells, err := d.cells.ListByDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("failed to list cells: %w", err)
	}

	var claimed []*domain.Cell
	for i := range rowCells {
		cell := &rowCells[i]
		if cell.State != domain.CellExtractingQueued || cell.DocumentVersion != doc.Version {
			continue
		}
		updated, err := d.transition(ctx, cell, domain.StateChange{To: domain.CellExtracting})
		if err != nil {
			if isLostRace(err) {
				continue
			}
			return err
		}
		claimed = append(claimed, updated)
	}
	if len(claimed) == 0 {
		return nil
	}

	_, fetchErr := d.cache.GetOrFetch(ctx, doc)
	if fetchErr != nil {
		d.log.Warn("extraction of %s failed: %v", task.ExtractionKey(), fetchErr)
	}

	for _, cell := range claimed {
		if fetchErr != nil {
			change := domain.StateChange{To: domain.CellFailed, Failure: domain.FailureFrom(fetchErr)}
			if _, err := d.transition(ctx, cell, change); err != nil && !isLostRace(err) {
				return err
			}
			continue
		}

		updated, err := d.transition(ctx, cell, domain.StateChange{To: domain.CellGeneratingQueued})
		if err != nil {
			if isLostRace(err) {
				continue
			}
			return err
		}
		d.queue.Push(domain.GenerateTask(updated, d.now()))
	}
	return nil
}

// runGenerate answers one cell from its document's cached extraction.
func (d *Dispatcher) runGenerate(ctx context.Context, task domain.DispatchTask) error {
	cell, err := d.cells.Get(ctx, task.DocumentID, task.ControlID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load cell: %w", err)
	}
	if cell.ID != task.CellID || cell.State != domain.CellGeneratingQueued {
		d.log.Debug("dropping %s: cell is %s", task.Key(), cell.State)
		return nil
	}

	ctrl, err := d.controls.GetControl(ctx, task.ControlID)
	if errors.Is(err, domain.ErrNotFound) {
		d.log.Debug("dropping %s: control removed", task.Key())
		return d.removeColumn(ctx, task.ControlID)
	}
	if err != nil {
		return fmt.Errorf("failed to load control: %w", err)
	}
	if !ctrl.Active {
		_, err := d.transition(ctx, cell, domain.StateChange{To: domain.CellPending})
		if err != nil && !isLostRace(err) {
			return err
		}
		return nil
	}

	entry, err := d.cache.Peek(ctx, cell.ExtractionKey())
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("failed to read extraction: %w", err)
	}
	if !entry.Ready() {
		violation := &domain.ConsistencyError{
			CellID: cell.ID,
			Reason: fmt.Sprintf("extraction %s is not available", cell.ExtractionKey()),
		}
		d.log.Error("%v", violation)
		change := domain.StateChange{To: domain.CellFailed, Failure: domain.FailureFrom(violation)}
		if _, err := d.transition(ctx, cell, change); err != nil && !isLostRace(err) {
			return err
		}
		return nil
	}

	cell, err = d.transition(ctx, cell, domain.StateChange{To: domain.CellGenerating})
	if err != nil {
		if isLostRace(err) {
			return nil
		}
		return err
	}

	answer, attempts, genErr := d.generation.Generate(ctx, driven.GenerationRequest{
		Content: entry.Result,
		Prompt:  ctrl.Prompt,
		Context: ctrl.Description,
	})

	change := domain.StateChange{To: domain.CellCompleted, Attempts: attempts}
	if genErr != nil {
		d.log.Warn("generation for cell %s failed after %d attempts: %v", cell.ID, attempts, genErr)
		change = domain.StateChange{To: domain.CellFailed, Failure: domain.FailureFrom(genErr), Attempts: attempts}
	} else {
		if answer.Confidence == 0 {
			answer.Confidence = ScoreConfidence(answer.Text)
		}
		change.Result = answer
	}

	if _, err := d.transition(ctx, cell, change); err != nil && !isLostRace(err) {
		return err
	}
	return nil
}

// transition applies a state change to a specific cell instance and
// publishes the result.
func (d *Dispatcher) transition(ctx context.Context, cell *domain.Cell, change domain.StateChange) (*domain.Cell, error) {
	change.CellID = cell.ID
	if change.At.IsZero() {
		change.At = d.now()
	}

	updated, err := d.cells.MarkState(ctx, cell.Key(), change)
	if err != nil {
		if errors.Is(err, domain.ErrStaleCell) {
			d.log.Warn("discarding %s for cell %s: superseded or removed", change.To, cell.ID)
		}
		return nil, err
	}

	if d.bus != nil {
		d.bus.Publish(domain.CellEvent{Cell: *updated, At: change.At})
	}
	return updated, nil
}

// controlStates maps every stored control ID to its active flag.
func (d *Dispatcher) controlStates(ctx context.Context) (map[string]bool, error) {
	controls, err := d.controls.ListControls(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list controls: %w", err)
	}
	states := make(map[string]bool, len(controls))
	for _, c := range controls {
		states[c.ID] = c.Active
	}
	return states, nil
}

// removeColumn deletes the cells of a control that no longer exists.
func (d *Dispatcher) removeColumn(ctx context.Context, controlID string) error {
	column, err := d.cells.ListByControl(ctx, controlID)
	if err != nil {
		return fmt.Errorf("failed to list cells: %w", err)
	}
	if _, err := d.cells.DeleteByControl(ctx, controlID); err != nil {
		return fmt.Errorf("failed to delete orphaned cells: %w", err)
	}
	if d.bus != nil {
		at := d.now()
		for _, c := range column {
			d.bus.Publish(domain.CellEvent{Cell: c, At: at, Removed: true})
		}
	}
	return nil
}

// isLostRace reports whether a transition failed because another actor
// changed the cell first.
func isLostRace(err error) bool {
	return errors.Is(err, domain.ErrStaleCell) || errors.Is(err, domain.ErrInvalidTransition)
}
