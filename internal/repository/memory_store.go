package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/superblog/internal/model"
)

// MemoryStore はプロセス内メモリに保持するCredentialStore実装。
// PostgreSQL実装と同じ一意制約を持ち、テストやローカル検証で使用する。
type MemoryStore struct {
	mu        sync.Mutex
	now       func() time.Time
	users     map[string]*model.User
	accounts  map[string]*model.Account // key: provider + "\x00" + subject
	sessions  map[string]*model.Session
	callbacks map[string]time.Time
}

// NewMemoryStore は空のMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:       time.Now,
		users:     make(map[string]*model.User),
		accounts:  make(map[string]*model.Account),
		sessions:  make(map[string]*model.Session),
		callbacks: make(map[string]time.Time),
	}
}

// SetClock はFindByIDが期限判定に使う時計を差し替える。
func (m *MemoryStore) SetClock(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// Store はMemoryStoreを各リポジトリとして束ねたCredentialStoreを返す。
func (m *MemoryStore) Store() CredentialStore {
	return CredentialStore{
		Users:     memoryUsers{m},
		Accounts:  memoryAccounts{m},
		Sessions:  memorySessions{m},
		Callbacks: memoryCallbacks{m},
	}
}

// UserCount は保持しているユーザー数を返す。
func (m *MemoryStore) UserCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

// SessionCount は保持しているセッション数を返す（失効済みを含む）。
func (m *MemoryStore) SessionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func accountKey(provider, subjectID string) string {
	return provider + "\x00" + subjectID
}

type memoryUsers struct{ m *MemoryStore }

func (r memoryUsers) FindByID(_ context.Context, id string) (*model.User, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	u, ok := r.m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (r memoryUsers) CreateWithAccount(_ context.Context, user *model.User, account *model.Account) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := accountKey(account.Provider, account.ProviderSubjectID)
	if _, ok := r.m.accounts[key]; ok {
		return ErrDuplicate
	}
	if _, ok := r.m.users[user.ID]; ok {
		return ErrDuplicate
	}
	u := *user
	a := *account
	r.m.users[u.ID] = &u
	r.m.accounts[key] = &a
	return nil
}

func (r memoryUsers) UpdateProfile(_ context.Context, id, name, email string, updatedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if u, ok := r.m.users[id]; ok {
		u.Name = name
		u.Email = email
		u.UpdatedAt = updatedAt
	}
	return nil
}

type memoryAccounts struct{ m *MemoryStore }

func (r memoryAccounts) FindByProviderSubject(_ context.Context, provider, subjectID string) (*model.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.accounts[accountKey(provider, subjectID)]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (r memoryAccounts) ListByUserID(_ context.Context, userID string) ([]*model.Account, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*model.Account
	for _, a := range r.m.accounts {
		if a.UserID == userID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

type memorySessions struct{ m *MemoryStore }

func (r memorySessions) Create(_ context.Context, session *model.Session) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.sessions[session.ID]; ok {
		return ErrDuplicate
	}
	s := *session
	r.m.sessions[s.ID] = &s
	return nil
}

func (r memorySessions) FindByID(_ context.Context, id string) (*model.Session, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[id]
	if !ok || !s.Active(r.m.now()) {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (r memorySessions) IsRevoked(_ context.Context, id string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[id]
	if !ok {
		return true, nil
	}
	return s.RevokedAt != nil, nil
}

func (r memorySessions) Revoke(_ context.Context, id string, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if s, ok := r.m.sessions[id]; ok && s.RevokedAt == nil {
		t := at
		s.RevokedAt = &t
	}
	return nil
}

func (r memorySessions) Touch(_ context.Context, id string, renewedAt, expiresAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	s, ok := r.m.sessions[id]
	if !ok || s.RevokedAt != nil {
		return nil
	}
	if renewedAt.After(s.LastRenewedAt) {
		s.LastRenewedAt = renewedAt
	}
	if expiresAt.After(s.ExpiresAt) {
		s.ExpiresAt = expiresAt
	}
	return nil
}

func (r memorySessions) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for id, s := range r.m.sessions {
		if s.ExpiresAt.Before(before) || (s.RevokedAt != nil && s.RevokedAt.Before(before)) {
			delete(r.m.sessions, id)
			n++
		}
	}
	return n, nil
}

type memoryCallbacks struct{ m *MemoryStore }

func (r memoryCallbacks) Consume(_ context.Context, codeHash, _ string, at time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.callbacks[codeHash]; ok {
		return ErrDuplicate
	}
	r.m.callbacks[codeHash] = at
	return nil
}

func (r memoryCallbacks) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for h, at := range r.m.callbacks {
		if at.Before(before) {
			delete(r.m.callbacks, h)
			n++
		}
	}
	return n, nil
}

// compile-time interface check
var (
	_ UserRepository     = memoryUsers{}
	_ AccountRepository  = memoryAccounts{}
	_ SessionRepository  = memorySessions{}
	_ CallbackRepository = memoryCallbacks{}
)
