package store

import (
	"sort"
	"sync"
	"time"

	"loreanchor/pkg/domain"
)

// MemoryStore keeps all state in-process. It backs tests and DB-less
// development and must behave exactly like the Postgres store.
type MemoryStore struct {
	mu            sync.RWMutex
	users         map[string]domain.User
	emails        map[string]string // email -> user ID
	works         map[string]domain.Work
	workOrder     []string // insertion order, oldest first
	infringements map[string]domain.Infringement
	infOrder      []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:         make(map[string]domain.User),
		emails:        make(map[string]string),
		works:         make(map[string]domain.Work),
		infringements: make(map[string]domain.Infringement),
	}
}

// SaveUser stores or replaces a user.
func (m *MemoryStore) SaveUser(u domain.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.emails[u.Email] = u.ID
	return nil
}

// GetUserByID returns a user by ID.
func (m *MemoryStore) GetUserByID(id string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

// GetUserByEmail looks up a user by email.
func (m *MemoryStore) GetUserByEmail(email string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.emails[email]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

// SaveWork stores or replaces a work and tracks insertion order.
func (m *MemoryStore) SaveWork(w domain.Work) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.works[w.ID]; !exists {
		m.workOrder = append(m.workOrder, w.ID)
	}
	m.works[w.ID] = w
	return nil
}

// GetWork retrieves a work.
func (m *MemoryStore) GetWork(id string) (domain.Work, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.works[id]
	return w, ok, nil
}

// ListWorks returns works newest first.
func (m *MemoryStore) ListWorks() ([]domain.Work, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Work, 0, len(m.workOrder))
	for i := len(m.workOrder) - 1; i >= 0; i-- {
		if w, ok := m.works[m.workOrder[i]]; ok {
			res = append(res, w)
		}
	}
	return res, nil
}

// SetWorkStatus updates status and scan error.
func (m *MemoryStore) SetWorkStatus(id string, status domain.WorkStatus, scanErr string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.works[id]
	if !ok {
		return nil
	}
	w.Status = status
	w.ScanError = scanErr
	m.works[id] = w
	return nil
}

// DeleteWork removes the work and every infringement referencing it.
func (m *MemoryStore) DeleteWork(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.works, id)
	for i, wid := range m.workOrder {
		if wid == id {
			m.workOrder = append(m.workOrder[:i], m.workOrder[i+1:]...)
			break
		}
	}
	kept := m.infOrder[:0]
	for _, iid := range m.infOrder {
		inf, ok := m.infringements[iid]
		if ok && inf.WorkID == id {
			delete(m.infringements, iid)
			continue
		}
		kept = append(kept, iid)
	}
	m.infOrder = kept
	return nil
}

// CompleteScan applies one scan outcome atomically under the store lock.
func (m *MemoryStore) CompleteScan(workID string, outcome ScanOutcome) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w, ok := m.works[workID]
	if !ok {
		return 0, nil
	}
	seen := make(map[string]bool)
	total := 0
	for _, iid := range m.infOrder {
		if inf, ok := m.infringements[iid]; ok && inf.WorkID == workID {
			seen[inf.SiteURL] = true
			total++
		}
	}
	added := 0
	for _, cand := range outcome.Candidates {
		if seen[cand.SiteURL] {
			continue
		}
		seen[cand.SiteURL] = true
		m.infringements[cand.ID] = cand
		m.infOrder = append(m.infOrder, cand.ID)
		added++
		total++
	}
	scannedAt := outcome.ScannedAt.UTC()
	w.Status = outcome.Status
	w.ScanError = outcome.ScanError
	w.LastScannedAt = &scannedAt
	w.InfringementCount = total
	m.works[workID] = w
	return added, nil
}

// GetInfringement retrieves one infringement.
func (m *MemoryStore) GetInfringement(id string) (domain.Infringement, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	inf, ok := m.infringements[id]
	return inf, ok, nil
}

// ListInfringements returns infringements matching the filter, newest first.
func (m *MemoryStore) ListInfringements(filter InfringementFilter) ([]domain.Infringement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Infringement, 0, len(m.infOrder))
	for _, id := range m.infOrder {
		inf, ok := m.infringements[id]
		if !ok {
			continue
		}
		if filter.WorkID != "" && inf.WorkID != filter.WorkID {
			continue
		}
		if filter.Status != "" && inf.Status != filter.Status {
			continue
		}
		res = append(res, inf)
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].DetectedAt.After(res[j].DetectedAt)
	})
	return res, nil
}

// ListInfringementsByWork returns a work's infringements in detection order.
func (m *MemoryStore) ListInfringementsByWork(workID string) ([]domain.Infringement, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Infringement, 0, 4)
	for _, id := range m.infOrder {
		if inf, ok := m.infringements[id]; ok && inf.WorkID == workID {
			res = append(res, inf)
		}
	}
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].DetectedAt.Before(res[j].DetectedAt)
	})
	return res, nil
}

// TransitionInfringement performs a guarded status move.
func (m *MemoryStore) TransitionInfringement(id string, from, to domain.InfringementStatus, resolvedAt *time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inf, ok := m.infringements[id]
	if !ok || inf.Status != from {
		return false, nil
	}
	if resolvedAt != nil && inf.ResolvedAt != nil {
		return false, nil
	}
	inf.Status = to
	if resolvedAt != nil {
		t := resolvedAt.UTC()
		inf.ResolvedAt = &t
	}
	m.infringements[id] = inf
	return true, nil
}
