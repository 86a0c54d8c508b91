package store

import (
	"context"
	"sync"

	"github.com/vivavox/vivavox/internal/exam"
)

// Memory is an in-process [Repository]. It is the default backend when no
// database is configured and the fixture of choice in tests.
//
// All methods are safe for concurrent use.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]SessionRecord
	answers  map[string][]AnswerRecord
	reports  map[string]exam.Report

	// reportOrder preserves first-save order so ListReports can return the
	// most recent sessions first.
	reportOrder []string
}

var _ Repository = (*Memory)(nil)

// NewMemory returns an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]SessionRecord),
		answers:  make(map[string][]AnswerRecord),
		reports:  make(map[string]exam.Report),
	}
}

// SaveSession implements [Repository].
func (m *Memory) SaveSession(_ context.Context, rec SessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[rec.Code] = rec
	return nil
}

// GetSession implements [Repository].
func (m *Memory) GetSession(_ context.Context, code string) (*SessionRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.sessions[code]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

// SaveAnswer implements [Repository].
func (m *Memory) SaveAnswer(_ context.Context, rec AnswerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers[rec.SessionCode] = append(m.answers[rec.SessionCode], rec)
	return nil
}

// Answers implements [Repository].
func (m *Memory) Answers(_ context.Context, sessionCode string) ([]AnswerRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	recs := m.answers[sessionCode]
	out := make([]AnswerRecord, len(recs))
	copy(out, recs)
	return out, nil
}

// SaveReport implements [Repository].
func (m *Memory) SaveReport(_ context.Context, report exam.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reports[report.SessionCode]; !exists {
		m.reportOrder = append(m.reportOrder, report.SessionCode)
	}
	m.reports[report.SessionCode] = report
	return nil
}

// GetReport implements [Repository].
func (m *Memory) GetReport(_ context.Context, sessionCode string) (*exam.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	report, ok := m.reports[sessionCode]
	if !ok {
		return nil, nil
	}
	return &report, nil
}

// ListReports implements [Repository].
func (m *Memory) ListReports(_ context.Context, college exam.CollegeType, limit int) ([]exam.Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []exam.Report{}
	for i := len(m.reportOrder) - 1; i >= 0; i-- {
		report := m.reports[m.reportOrder[i]]
		if college != "" && report.CollegeType != college {
			continue
		}
		out = append(out, report)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
