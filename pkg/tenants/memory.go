package tenants

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryStore implements Directory and Memberships in process memory. Used
// in dev when DATABASE_URL is unset and in tests.
type MemoryStore struct {
	log *zap.SugaredLogger
	now func() time.Time

	mu      sync.RWMutex
	realms  map[string]Realm
	members map[string][]Membership // key: normalized email
}

var (
	_ Directory   = (*MemoryStore)(nil)
	_ Memberships = (*MemoryStore)(nil)
)

func NewMemoryStore(log *zap.SugaredLogger) *MemoryStore {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &MemoryStore{log: log, now: time.Now, realms: map[string]Realm{}, members: map[string][]Membership{}}
}

func (m *MemoryStore) Get(ctx context.Context, name string) (Realm, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.realms[name]
	if !ok {
		return Realm{}, ErrNotFound
	}
	r.SealedClientSecret = append([]byte(nil), r.SealedClientSecret...)
	return r, nil
}

func (m *MemoryStore) Save(ctx context.Context, r Realm) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	if prev, ok := m.realms[r.Name]; ok {
		r.CreatedAt = prev.CreatedAt
	} else if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	r.UpdatedAt = now
	r.SealedClientSecret = append([]byte(nil), r.SealedClientSecret...)
	m.realms[r.Name] = r
	return nil
}

func (m *MemoryStore) SetStatus(ctx context.Context, name string, status Status, failedStep string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.realms[name]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.FailedStep = ""
	if status == StatusFailed {
		r.FailedStep = failedStep
	}
	r.UpdatedAt = m.now()
	m.realms[name] = r
	return nil
}

func (m *MemoryStore) Add(ctx context.Context, email, realmName string) error {
	key := normalizeEmail(email)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ms := range m.members[key] {
		if ms.RealmName == realmName {
			return nil
		}
	}
	m.members[key] = append(m.members[key], Membership{Email: key, RealmName: realmName, CreatedAt: m.now()})
	return nil
}

func (m *MemoryStore) RealmsFor(ctx context.Context, email string) ([]string, error) {
	m.mu.RLock()
	list := append([]Membership(nil), m.members[normalizeEmail(email)]...)
	m.mu.RUnlock()
	sort.SliceStable(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	out := make([]string, 0, len(list))
	for _, ms := range list {
		out = append(out, ms.RealmName)
	}
	return out, nil
}
