// Package memory implementa los repositorios en memoria; se usa cuando no hay
// DATABASE_URL configurada y en los tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"crm-auth/internal/domain"
	"crm-auth/internal/repository"
)

// Store guarda todas las tablas bajo un unico mutex, lo que hace que cada
// operacion sea atomica igual que una sentencia SQL de una fila.
type Store struct {
	mu          sync.Mutex
	users       map[string]domain.User
	workspaces  map[string]domain.Workspace
	members     []domain.Membership
	tokens      map[string]domain.AuthToken
	sessions    map[string]domain.Session
	backupCodes map[string][]domain.BackupCode
}

func New() *Store {
	return &Store{
		users:       make(map[string]domain.User),
		workspaces:  make(map[string]domain.Workspace),
		tokens:      make(map[string]domain.AuthToken),
		sessions:    make(map[string]domain.Session),
		backupCodes: make(map[string][]domain.BackupCode),
	}
}

func (s *Store) Users() *UserRepository             { return &UserRepository{s: s} }
func (s *Store) Workspaces() *WorkspaceRepository   { return &WorkspaceRepository{s: s} }
func (s *Store) Tokens() *TokenRepository           { return &TokenRepository{s: s} }
func (s *Store) Sessions() *SessionRepository       { return &SessionRepository{s: s} }
func (s *Store) BackupCodes() *BackupCodeRepository { return &BackupCodeRepository{s: s} }

var (
	_ repository.UserRepository       = (*UserRepository)(nil)
	_ repository.WorkspaceRepository  = (*WorkspaceRepository)(nil)
	_ repository.TokenRepository      = (*TokenRepository)(nil)
	_ repository.SessionRepository    = (*SessionRepository)(nil)
	_ repository.BackupCodeRepository = (*BackupCodeRepository)(nil)
)

type UserRepository struct{ s *Store }

func (r *UserRepository) Create(_ context.Context, user domain.User, workspace domain.Workspace) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
	}
	for _, w := range r.s.workspaces {
		if w.Slug == workspace.Slug {
			return repository.ErrDuplicateSlug
		}
	}
	if user.UpdatedAt.IsZero() {
		user.UpdatedAt = user.CreatedAt
	}
	r.s.users[user.ID] = user
	r.s.workspaces[workspace.ID] = workspace
	r.s.members = append(r.s.members, domain.Membership{
		WorkspaceID: workspace.ID,
		UserID:      user.ID,
		Role:        domain.MemberRoleOwner,
		CreatedAt:   workspace.CreatedAt,
	})
	return nil
}

func (r *UserRepository) GetByID(_ context.Context, id string) (domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return domain.User{}, pgx.ErrNoRows
	}
	return u, nil
}

func (r *UserRepository) GetByEmail(_ context.Context, email string) (domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (r *UserRepository) GetByAuth(_ context.Context, provider, subject string) (domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, u := range r.s.users {
		if u.AuthProvider == provider && u.AuthSubject == subject && provider != "" && subject != "" {
			return u, nil
		}
	}
	return domain.User{}, pgx.ErrNoRows
}

func (r *UserRepository) update(id string, fn func(u *domain.User) bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	u, ok := r.s.users[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if !fn(&u) {
		return pgx.ErrNoRows
	}
	u.UpdatedAt = time.Now().UTC()
	r.s.users[id] = u
	return nil
}

func (r *UserRepository) LinkOAuth(_ context.Context, id, provider, subject string) error {
	return r.update(id, func(u *domain.User) bool {
		u.AuthProvider = provider
		u.AuthSubject = subject
		return true
	})
}

func (r *UserRepository) MarkVerified(_ context.Context, id string, verifiedAt time.Time) error {
	return r.update(id, func(u *domain.User) bool {
		if u.Status == domain.UserStatusPending {
			u.Status = domain.UserStatusActive
		}
		if u.EmailVerifiedAt == nil {
			at := verifiedAt
			u.EmailVerifiedAt = &at
		}
		return true
	})
}

func (r *UserRepository) UpdatePassword(_ context.Context, id, passwordHash string) error {
	return r.update(id, func(u *domain.User) bool {
		u.PasswordHash = passwordHash
		return true
	})
}

func (r *UserRepository) SetPendingTwoFactor(_ context.Context, id, secret string) error {
	return r.update(id, func(u *domain.User) bool {
		u.TwoFactorPendingSecret = secret
		return true
	})
}

func (r *UserRepository) EnableTwoFactor(_ context.Context, id string) error {
	return r.update(id, func(u *domain.User) bool {
		if u.TwoFactorPendingSecret == "" {
			return false
		}
		u.TwoFactorSecret = u.TwoFactorPendingSecret
		u.TwoFactorPendingSecret = ""
		u.TwoFactorEnabled = true
		return true
	})
}

func (r *UserRepository) DisableTwoFactor(_ context.Context, id string) error {
	return r.update(id, func(u *domain.User) bool {
		u.TwoFactorEnabled = false
		u.TwoFactorSecret = ""
		u.TwoFactorPendingSecret = ""
		return true
	})
}

// SetStatus permite a tests y herramientas de administracion deshabilitar cuentas.
func (r *UserRepository) SetStatus(id string, status domain.UserStatus) error {
	return r.update(id, func(u *domain.User) bool {
		u.Status = status
		return true
	})
}

type WorkspaceRepository struct{ s *Store }

func (r *WorkspaceRepository) ListByUser(_ context.Context, userID string) ([]domain.Workspace, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	members := make([]domain.Membership, 0)
	for _, m := range r.s.members {
		if m.UserID == userID {
			members = append(members, m)
		}
	}
	sort.SliceStable(members, func(i, j int) bool {
		return members[i].CreatedAt.Before(members[j].CreatedAt)
	})
	var out []domain.Workspace
	for _, m := range members {
		if w, ok := r.s.workspaces[m.WorkspaceID]; ok {
			out = append(out, w)
		}
	}
	return out, nil
}

type TokenRepository struct{ s *Store }

func (r *TokenRepository) Create(_ context.Context, token domain.AuthToken) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, t := range r.s.tokens {
		if t.TokenHash == token.TokenHash {
			return repository.ErrDuplicate
		}
	}
	r.s.tokens[token.ID] = token
	return nil
}

func (r *TokenRepository) InvalidateUnused(_ context.Context, userID string, tokenType domain.TokenType, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, t := range r.s.tokens {
		if t.UserID == userID && t.Type == tokenType && t.UsedAt == nil {
			used := at
			t.UsedAt = &used
			r.s.tokens[id] = t
		}
	}
	return nil
}

func (r *TokenRepository) Consume(_ context.Context, tokenHash string, tokenType domain.TokenType, at time.Time) (domain.AuthToken, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, t := range r.s.tokens {
		if t.TokenHash != tokenHash || t.Type != tokenType {
			continue
		}
		if !t.Usable(at) {
			return domain.AuthToken{}, pgx.ErrNoRows
		}
		used := at
		t.UsedAt = &used
		r.s.tokens[id] = t
		return t, nil
	}
	return domain.AuthToken{}, pgx.ErrNoRows
}

type SessionRepository struct{ s *Store }

func (r *SessionRepository) Create(_ context.Context, session domain.Session) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.sessions[session.ID] = session
	return nil
}

func (r *SessionRepository) GetByID(_ context.Context, id string) (domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok {
		return domain.Session{}, pgx.ErrNoRows
	}
	return sess, nil
}

func (r *SessionRepository) Rotate(_ context.Context, id, oldJTI, newJTI string, usedAt, expiresAt time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || sess.RefreshJTI != oldJTI || !sess.Active(usedAt) {
		return false, nil
	}
	sess.RefreshJTI = newJTI
	sess.LastUsedAt = usedAt
	sess.ExpiresAt = expiresAt
	r.s.sessions[id] = sess
	return true, nil
}

func (r *SessionRepository) ListActiveByUser(_ context.Context, userID string, now time.Time) ([]domain.Session, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []domain.Session
	for _, sess := range r.s.sessions {
		if sess.UserID == userID && sess.Active(now) {
			out = append(out, sess)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].LastUsedAt.After(out[j].LastUsedAt)
	})
	return out, nil
}

func (r *SessionRepository) Revoke(_ context.Context, userID, id string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sess, ok := r.s.sessions[id]
	if !ok || sess.UserID != userID || sess.RevokedAt != nil {
		return false, nil
	}
	revoked := at
	sess.RevokedAt = &revoked
	r.s.sessions[id] = sess
	return true, nil
}

func (r *SessionRepository) RevokeAll(ctx context.Context, userID string, at time.Time) (int64, error) {
	return r.RevokeAllExcept(ctx, userID, "", at)
}

func (r *SessionRepository) RevokeAllExcept(_ context.Context, userID, keepID string, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, sess := range r.s.sessions {
		if sess.UserID != userID || sess.RevokedAt != nil || id == keepID {
			continue
		}
		revoked := at
		sess.RevokedAt = &revoked
		r.s.sessions[id] = sess
		n++
	}
	return n, nil
}

type BackupCodeRepository struct{ s *Store }

func (r *BackupCodeRepository) Replace(_ context.Context, userID string, hashes []string, createdAt time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	codes := make([]domain.BackupCode, 0, len(hashes))
	for _, h := range hashes {
		codes = append(codes, domain.BackupCode{
			ID:        uuid.NewString(),
			UserID:    userID,
			CodeHash:  h,
			CreatedAt: createdAt,
		})
	}
	r.s.backupCodes[userID] = codes
	return nil
}

func (r *BackupCodeRepository) Consume(_ context.Context, userID, hash string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	codes := r.s.backupCodes[userID]
	for i := range codes {
		if codes[i].CodeHash == hash && codes[i].UsedAt == nil {
			used := at
			codes[i].UsedAt = &used
			return true, nil
		}
	}
	return false, nil
}

func (r *BackupCodeRepository) CountUnused(_ context.Context, userID string) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	n := 0
	for _, c := range r.s.backupCodes[userID] {
		if c.UsedAt == nil {
			n++
		}
	}
	return n, nil
}

func (r *BackupCodeRepository) DeleteAll(_ context.Context, userID string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	delete(r.s.backupCodes, userID)
	return nil
}
