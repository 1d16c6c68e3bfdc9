package mcp

import (
	"context"

	"github.com/custodia-labs/tally/internal/core/domain"
)

// mockGridService is a mock implementation of driving.GridService.
type mockGridService struct {
	view      *domain.GridView
	summary   *domain.ProcessingSummary
	reaction  *domain.Reaction
	err       error
	lastScope domain.RegenerateScope
}

func (m *mockGridService) GetGridView(_ context.Context) (*domain.GridView, error) {
	return m.view, m.err
}

func (m *mockGridService) RequestRegenerate(_ context.Context, scope domain.RegenerateScope) (*domain.Reaction, error) {
	m.lastScope = scope
	return m.reaction, m.err
}

func (m *mockGridService) Subscribe(ctx context.Context) <-chan domain.CellEvent {
	ch := make(chan domain.CellEvent)
	go func() {
		<-ctx.Done()
		close(ch)
	}()
	return ch
}

func (m *mockGridService) Status(_ context.Context) (*domain.ProcessingSummary, error) {
	return m.summary, m.err
}

func (m *mockGridService) History(_ context.Context, _, _ string) ([]domain.Cell, error) {
	return nil, m.err
}

// mockControlService is a mock implementation of driving.ControlService.
type mockControlService struct {
	controls        []domain.Control
	err             error
	lastQuery       string
	includeInactive bool
}

func (m *mockControlService) Create(_ context.Context, _ domain.ControlInput) (*domain.Control, error) {
	return nil, m.err
}

func (m *mockControlService) Update(_ context.Context, _ string, _ domain.ControlPatch) (*domain.Control, error) {
	return nil, m.err
}

func (m *mockControlService) Remove(_ context.Context, _ string) error {
	return m.err
}

func (m *mockControlService) Get(_ context.Context, _ string) (*domain.Control, error) {
	return nil, m.err
}

func (m *mockControlService) List(_ context.Context, includeInactive bool) ([]domain.Control, error) {
	m.includeInactive = includeInactive
	return m.controls, m.err
}

func (m *mockControlService) Search(_ context.Context, query string) ([]domain.Control, error) {
	m.lastQuery = query
	return m.controls, m.err
}

func (m *mockControlService) Duplicate(_ context.Context, _ string) (*domain.Control, error) {
	return nil, m.err
}

// testView is a 2×1 grid: one answered cell and one failed cell.
func testView() *domain.GridView {
	return &domain.GridView{
		Controls: []domain.Control{{ID: "c1", Title: "Encryption", Prompt: "Is data encrypted?", Active: true, Version: 2}},
		Rows: []domain.GridRow{
			{
				Document: domain.Document{ID: "d1", Filename: "policy.pdf", Version: 1},
				Cells: []domain.CellSummary{{
					DocumentID: "d1", ControlID: "c1", CellID: "cell-1", State: domain.CellCompleted,
					Answer: "Yes.", Confidence: 0.8, Attempts: 1,
					Citations: []domain.Citation{{ID: "1", Page: 3, Text: "AES-256"}},
				}},
			},
			{
				Document: domain.Document{ID: "d2", Filename: "scan.pdf", Version: 3},
				Cells: []domain.CellSummary{{
					DocumentID: "d2", ControlID: "c1", CellID: "cell-2", State: domain.CellFailed,
					Error: &domain.CellFailure{Class: domain.ErrorClassPermanent, Message: "encrypted pdf"},
				}},
			},
		},
	}
}

func newTestServer(grid *mockGridService, controls *mockControlService) *Server {
	s, err := NewServer(&Ports{Grid: grid, Control: controls})
	if err != nil {
		panic(err)
	}
	return s
}
