// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/warp/recurrence-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu          sync.RWMutex
	templates   map[engine.RecurrenceID]engine.RecurrenceTemplate
	versions    map[engine.RecurrenceID][]engine.RecurrenceVersion
	occurrences map[engine.OccurrenceID]engine.Occurrence
	instances   map[string]engine.OccurrenceID // instance key -> occurrence
}

func NewMemory() *Memory {
	return &Memory{
		templates:   make(map[engine.RecurrenceID]engine.RecurrenceTemplate),
		versions:    make(map[engine.RecurrenceID][]engine.RecurrenceVersion),
		occurrences: make(map[engine.OccurrenceID]engine.Occurrence),
		instances:   make(map[string]engine.OccurrenceID),
	}
}

// --- Templates ---

func (m *Memory) GetTemplate(_ context.Context, id engine.RecurrenceID) (*engine.RecurrenceTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tmpl, ok := m.templates[id]
	if !ok {
		return nil, engine.ErrRecurrenceNotFound
	}
	out := tmpl
	return &out, nil
}

func (m *Memory) SaveTemplate(_ context.Context, tmpl *engine.RecurrenceTemplate) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.templates[tmpl.ID] = *tmpl
	return nil
}

func (m *Memory) ListTemplates(_ context.Context, companyID engine.CompanyID) ([]engine.RecurrenceTemplate, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.RecurrenceTemplate
	for _, tmpl := range m.templates {
		if tmpl.CompanyID == companyID {
			result = append(result, tmpl)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) Companies(_ context.Context) ([]engine.CompanyID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[engine.CompanyID]bool)
	var result []engine.CompanyID
	for _, tmpl := range m.templates {
		if !seen[tmpl.CompanyID] {
			seen[tmpl.CompanyID] = true
			result = append(result, tmpl.CompanyID)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result, nil
}

// --- Versions ---

func (m *Memory) ActiveVersion(_ context.Context, id engine.RecurrenceID) (*engine.RecurrenceVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, v := range m.versions[id] {
		if v.Active {
			out := v
			return &out, nil
		}
	}
	return nil, nil
}

func (m *Memory) Versions(_ context.Context, id engine.RecurrenceID) ([]engine.RecurrenceVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := append([]engine.RecurrenceVersion{}, m.versions[id]...)
	sort.Slice(result, func(i, j int) bool { return result[i].Number < result[j].Number })
	return result, nil
}

func (m *Memory) SaveVersion(_ context.Context, v *engine.RecurrenceVersion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	versions := m.versions[v.RecurrenceID]
	for i, existing := range versions {
		if existing.ID == v.ID {
			versions[i] = *v
			return nil
		}
	}
	m.versions[v.RecurrenceID] = append(versions, *v)
	return nil
}

// --- Occurrences ---

func (m *Memory) GetOccurrence(_ context.Context, id engine.OccurrenceID) (*engine.Occurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	occ, ok := m.occurrences[id]
	if !ok {
		return nil, engine.ErrOccurrenceNotFound
	}
	out := occ
	return &out, nil
}

func (m *Memory) OccurrencesByRecurrence(_ context.Context, companyID engine.CompanyID, id engine.RecurrenceID) ([]engine.Occurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Occurrence
	for _, o := range m.occurrences {
		if o.CompanyID == companyID && o.RecurrenceID == id {
			result = append(result, o)
		}
	}
	sortByDueDate(result)
	return result, nil
}

func (m *Memory) OccurrencesMatching(_ context.Context, key engine.SimilarityKey) ([]engine.Occurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Occurrence
	for _, o := range m.occurrences {
		if o.CompanyID != key.CompanyID || o.Type != key.Type {
			continue
		}
		if !o.Amount.Equal(key.Amount) {
			continue
		}
		if o.Counterparty.ID != key.Counterparty.ID || o.Counterparty.Name != key.Counterparty.Name {
			continue
		}
		result = append(result, o)
	}
	sortByDueDate(result)
	return result, nil
}

func (m *Memory) OccurrencesByCompany(_ context.Context, companyID engine.CompanyID) ([]engine.Occurrence, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []engine.Occurrence
	for _, o := range m.occurrences {
		if o.CompanyID == companyID {
			result = append(result, o)
		}
	}
	sortByDueDate(result)
	return result, nil
}

// CreateOccurrences adds a batch atomically: instance keys are checked
// before any write so a duplicate rejects the whole batch.
func (m *Memory) CreateOccurrences(_ context.Context, occs []engine.Occurrence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.createLocked(occs)
}

func (m *Memory) createLocked(occs []engine.Occurrence) error {
	for _, o := range occs {
		if o.InstanceKey != "" {
			if _, exists := m.instances[o.InstanceKey]; exists {
				return engine.ErrDuplicateInstance
			}
		}
	}
	for _, o := range occs {
		m.occurrences[o.ID] = o
		if o.InstanceKey != "" {
			m.instances[o.InstanceKey] = o.ID
		}
	}
	return nil
}

func (m *Memory) UpdateOccurrences(_ context.Context, occs []engine.Occurrence) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, o := range occs {
		if _, ok := m.occurrences[o.ID]; !ok {
			return engine.ErrOccurrenceNotFound
		}
	}
	for _, o := range occs {
		m.occurrences[o.ID] = o
	}
	return nil
}

func (m *Memory) DeleteOccurrences(_ context.Context, ids []engine.OccurrenceID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		if o, ok := m.occurrences[id]; ok {
			if o.InstanceKey != "" {
				delete(m.instances, o.InstanceKey)
			}
			delete(m.occurrences, id)
		}
	}
	return nil
}

func sortByDueDate(occs []engine.Occurrence) {
	sort.Slice(occs, func(i, j int) bool {
		if occs[i].DueDate.Equal(occs[j].DueDate) {
			return occs[i].ID < occs[j].ID
		}
		return occs[i].DueDate.Before(occs[j].DueDate)
	})
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn within a transaction. For the memory store this is
// simulated with a snapshot + rollback on error.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	snapshot := tm.snapshot()

	if err := fn(tm.Memory); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (tm *TxMemory) snapshot() memorySnapshot {
	tm.mu.RLock()
	defer tm.mu.RUnlock()

	s := memorySnapshot{
		templates:   make(map[engine.RecurrenceID]engine.RecurrenceTemplate, len(tm.templates)),
		versions:    make(map[engine.RecurrenceID][]engine.RecurrenceVersion, len(tm.versions)),
		occurrences: make(map[engine.OccurrenceID]engine.Occurrence, len(tm.occurrences)),
		instances:   make(map[string]engine.OccurrenceID, len(tm.instances)),
	}
	for k, v := range tm.templates {
		s.templates[k] = v
	}
	for k, v := range tm.versions {
		s.versions[k] = append([]engine.RecurrenceVersion{}, v...)
	}
	for k, v := range tm.occurrences {
		s.occurrences[k] = v
	}
	for k, v := range tm.instances {
		s.instances[k] = v
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.templates = s.templates
	tm.versions = s.versions
	tm.occurrences = s.occurrences
	tm.instances = s.instances
}

type memorySnapshot struct {
	templates   map[engine.RecurrenceID]engine.RecurrenceTemplate
	versions    map[engine.RecurrenceID][]engine.RecurrenceVersion
	occurrences map[engine.OccurrenceID]engine.Occurrence
	instances   map[string]engine.OccurrenceID
}
