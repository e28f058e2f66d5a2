package accounts

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/nexus-dashboard/nexus/internal/models"
)

// MemoryRepository is an in-process Repository for tests and local runs.
type MemoryRepository struct {
	mu         sync.Mutex
	nextID     uint
	users      map[uint]models.User
	requests   map[uint]models.AccessRequest
	resets     map[uint]models.PasswordReset
	identities map[string]models.AuthIdentity
}

// NewMemoryRepository creates an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:      make(map[uint]models.User),
		requests:   make(map[uint]models.AccessRequest),
		resets:     make(map[uint]models.PasswordReset),
		identities: make(map[string]models.AuthIdentity),
	}
}

func (m *MemoryRepository) id() uint {
	m.nextID++
	return m.nextID
}

func (m *MemoryRepository) CreateUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if strings.EqualFold(u.Email, user.Email) {
			return ErrEmailTaken
		}
	}
	now := time.Now()
	user.ID = m.id()
	user.CreatedAt, user.UpdatedAt = now, now
	m.users[user.ID] = cloneUser(*user)
	return nil
}

func (m *MemoryRepository) UserByID(_ context.Context, id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	out := cloneUser(u)
	return &out, nil
}

func (m *MemoryRepository) UserByUID(_ context.Context, uid string) (*models.User, error) {
	return m.findUser(func(u models.User) bool { return u.UID == uid })
}

func (m *MemoryRepository) UserByEmail(_ context.Context, email string) (*models.User, error) {
	return m.findUser(func(u models.User) bool { return u.Email == email })
}

func (m *MemoryRepository) findUser(match func(models.User) bool) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if match(u) {
			out := cloneUser(u)
			return &out, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *MemoryRepository) ListUsers(_ context.Context) ([]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, cloneUser(u))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (m *MemoryRepository) SaveUser(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[user.ID]; !ok {
		return ErrUserNotFound
	}
	for id, u := range m.users {
		if id != user.ID && strings.EqualFold(u.Email, user.Email) {
			return ErrEmailTaken
		}
	}
	user.UpdatedAt = time.Now()
	m.users[user.ID] = cloneUser(*user)
	return nil
}

func (m *MemoryRepository) DeleteUser(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return ErrUserNotFound
	}
	delete(m.users, id)
	for rid, r := range m.resets {
		if r.UserID == id {
			delete(m.resets, rid)
		}
	}
	return nil
}

func (m *MemoryRepository) CreateAccessRequest(_ context.Context, req *models.AccessRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	req.ID = m.id()
	req.CreatedAt = time.Now()
	m.requests[req.ID] = *req
	return nil
}

func (m *MemoryRepository) AccessRequestByID(_ context.Context, id uint) (*models.AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.requests[id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return &r, nil
}

func (m *MemoryRepository) ListAccessRequests(_ context.Context, status string) ([]models.AccessRequest, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.AccessRequest
	for _, r := range m.requests {
		if r.Status == status {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryRepository) DeleteAccessRequest(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[id]; !ok {
		return ErrRequestNotFound
	}
	delete(m.requests, id)
	return nil
}

func (m *MemoryRepository) CreatePasswordReset(_ context.Context, reset *models.PasswordReset) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	reset.ID = m.id()
	reset.CreatedAt = time.Now()
	m.resets[reset.ID] = *reset
	return nil
}

func (m *MemoryRepository) PasswordResetByHash(_ context.Context, tokenHash string) (*models.PasswordReset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.resets {
		if r.TokenHash == tokenHash {
			return &r, nil
		}
	}
	return nil, ErrResetTokenInvalid
}

func (m *MemoryRepository) MarkPasswordResetUsed(_ context.Context, id uint, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.resets[id]
	if !ok {
		return ErrResetTokenInvalid
	}
	r.UsedAt = &at
	m.resets[id] = r
	return nil
}

func (m *MemoryRepository) PurgePasswordResets(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, r := range m.resets {
		if r.ExpiresAt.Before(before) || r.UsedAt != nil {
			delete(m.resets, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) UpsertIdentity(_ context.Context, identity *models.AuthIdentity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := identity.Provider + "/" + identity.ProviderUserID
	if existing, ok := m.identities[key]; ok {
		identity.ID = existing.ID
	} else {
		identity.ID = m.id()
	}
	m.identities[key] = *identity
	return nil
}

func cloneUser(u models.User) models.User {
	u.AllowedModules = append([]string(nil), u.AllowedModules...)
	return u
}
