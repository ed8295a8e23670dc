package user

import (
	"context"
	"errors"
	"strings"
	"time"
)

var (
	ErrIDRequired          = errors.New("user: id is required")
	ErrEmailRequired       = errors.New("user: email is required")
	ErrPasswordHashMissing = errors.New("user: password hash is required")
	ErrNameRequired        = errors.New("user: name is required")
	ErrInvalidRole         = errors.New("user: invalid role")
	ErrEmailAlreadyUsed    = errors.New("user: email already used")
	ErrNotFound            = errors.New("user: not found")
)

type ID string

type Role string

const (
	RoleUser   Role = "user"
	RoleWorker Role = "worker"
	RoleAdmin  Role = "admin"
)

// SelfAssignableRoles can be requested at registration.
var SelfAssignableRoles = []Role{RoleUser, RoleWorker}

type User struct {
	ID           ID
	Email        string
	Name         string
	Avatar       string
	PasswordHash string
	Roles        []Role
	Blocked      bool
	IsOnline     bool
	LastSeen     time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Repository interface {
	ByID(ctx context.Context, id ID) (*User, error)
	ByEmail(ctx context.Context, email string) (*User, error)
	Save(ctx context.Context, user *User) error
}

//go:generate mockgen -destination=mock/presence_mock.go -package=mock marketplace/internal/domain/user PresenceWriter

// PresenceWriter persists the advisory online flag shown on profiles.
type PresenceWriter interface {
	SetPresence(ctx context.Context, id ID, online bool, at time.Time) error
}

type CreateParams struct {
	ID           ID
	Email        string
	Name         string
	Avatar       string
	PasswordHash string
	Roles        []Role
	CreatedAt    time.Time
}

func NewUser(params CreateParams) (*User, error) {
	id := strings.TrimSpace(string(params.ID))
	if id == "" {
		return nil, ErrIDRequired
	}
	email := normalizeEmail(params.Email)
	if email == "" {
		return nil, ErrEmailRequired
	}
	if strings.TrimSpace(params.PasswordHash) == "" {
		return nil, ErrPasswordHashMissing
	}
	name := strings.TrimSpace(params.Name)
	if name == "" {
		return nil, ErrNameRequired
	}

	now := params.CreatedAt
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	roles, err := normalizeRoles(params.Roles)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		roles = []Role{RoleUser}
	}

	return &User{
		ID:           ID(id),
		Email:        email,
		Name:         name,
		Avatar:       strings.TrimSpace(params.Avatar),
		PasswordHash: params.PasswordHash,
		Roles:        roles,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// SetPresence flips the online hint. Going offline stamps LastSeen.
func (u *User) SetPresence(online bool, at time.Time) {
	if at.IsZero() {
		at = time.Now()
	}
	u.IsOnline = online
	if !online {
		u.LastSeen = at.UTC()
	}
}

func (u *User) HasRole(role Role) bool {
	role = NormalizeRole(role)
	if role == "" {
		return false
	}
	for _, current := range u.Roles {
		if NormalizeRole(current) == role {
			return true
		}
	}
	return false
}

// IsSelfAssignable reports whether a role may be picked at sign up.
func IsSelfAssignable(role Role) bool {
	role = NormalizeRole(role)
	for _, r := range SelfAssignableRoles {
		if r == role {
			return true
		}
	}
	return false
}

func normalizeRoles(roles []Role) ([]Role, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	seen := make(map[Role]struct{}, len(roles))
	normalized := make([]Role, 0, len(roles))
	for _, role := range roles {
		normalizedRole := NormalizeRole(role)
		if normalizedRole == "" {
			return nil, ErrInvalidRole
		}
		if _, ok := seen[normalizedRole]; ok {
			continue
		}
		seen[normalizedRole] = struct{}{}
		normalized = append(normalized, normalizedRole)
	}
	return normalized, nil
}

// NormalizeRole maps known spellings onto the canonical roles and returns "" for unknown ones.
func NormalizeRole(role Role) Role {
	switch strings.ToLower(strings.TrimSpace(string(role))) {
	case "user", "client":
		return RoleUser
	case "worker", "provider":
		return RoleWorker
	case "admin":
		return RoleAdmin
	default:
		return ""
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
