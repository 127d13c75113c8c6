package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.io/infrasutra/mockinvoice/internal/store"
)

// ErrInvalidRegistration wraps every validation failure of Register.
var ErrInvalidRegistration = errors.New("invalid registration")

const (
	minPasswordLength = 6
	maxUsernameLength = 50
)

// UserStore is the persistence the authenticator needs; *store.SQLite implements it.
type UserStore interface {
	CreateUser(ctx context.Context, user store.User) error
	GetUser(ctx context.Context, username string) (store.User, error)
	ListUsers(ctx context.Context) ([]store.User, error)
	TouchLogin(ctx context.Context, username string, now time.Time) error
}

// Registration is the input for creating an account.
type Registration struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	Role     string `json:"role"`
}

type Users struct {
	db   UserStore
	cost int
	now  func() time.Time
}

func NewUsers(db UserStore) *Users {
	return &Users{db: db, cost: bcrypt.DefaultCost, now: time.Now}
}

// Authenticate checks a username/password pair and records the login. Unknown
// users, wrong passwords and disabled accounts all yield ErrInvalidCredentials.
func (u *Users) Authenticate(ctx context.Context, username, password string) (store.User, error) {
	user, err := u.db.GetUser(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return store.User{}, ErrInvalidCredentials
		}
		return store.User{}, err
	}
	if user.Disabled {
		return store.User{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return store.User{}, ErrInvalidCredentials
	}
	now := u.now()
	if err := u.db.TouchLogin(ctx, user.Username, now); err != nil {
		return store.User{}, err
	}
	user.LastLogin = now
	return user, nil
}

func (u *Users) Register(ctx context.Context, reg Registration) (store.User, error) {
	user, err := u.build(reg)
	if err != nil {
		return store.User{}, err
	}
	if err := u.db.CreateUser(ctx, user); err != nil {
		return store.User{}, err
	}
	return user, nil
}

func (u *Users) Get(ctx context.Context, username string) (store.User, error) {
	return u.db.GetUser(ctx, username)
}

func (u *Users) List(ctx context.Context) ([]store.User, error) {
	return u.db.ListUsers(ctx)
}

// EnsureDefaults creates the admin and candidate accounts when they are missing.
// Existing accounts keep their passwords.
func (u *Users) EnsureDefaults(ctx context.Context, adminPassword, candidatePassword string) error {
	defaults := []Registration{
		{Username: "admin", Password: adminPassword, Email: "admin@example.com", FullName: "Administrator", Role: store.RoleAdmin},
		{Username: "candidate", Password: candidatePassword, Email: "candidate@example.com", FullName: "Test Candidate", Role: store.RoleCandidate},
	}
	for _, reg := range defaults {
		_, err := u.Register(ctx, reg)
		if err != nil && !errors.Is(err, store.ErrUserExists) {
			return fmt.Errorf("ensure user %s: %w", reg.Username, err)
		}
	}
	return nil
}

func (u *Users) build(reg Registration) (store.User, error) {
	username := strings.TrimSpace(reg.Username)
	if len(username) < 3 || len(username) > maxUsernameLength {
		return store.User{}, fmt.Errorf("%w: username must be 3-%d characters", ErrInvalidRegistration, maxUsernameLength)
	}
	if len(reg.Password) < minPasswordLength {
		return store.User{}, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidRegistration, minPasswordLength)
	}
	role := strings.ToLower(strings.TrimSpace(reg.Role))
	switch role {
	case "":
		role = store.RoleCandidate
	case store.RoleAdmin, store.RoleCandidate:
	default:
		return store.User{}, fmt.Errorf("%w: role must be %q or %q", ErrInvalidRegistration, store.RoleAdmin, store.RoleCandidate)
	}
	email := ""
	if strings.TrimSpace(reg.Email) != "" {
		normalized, err := NormalizeEmail(reg.Email)
		if err != nil {
			return store.User{}, fmt.Errorf("%w: %w", ErrInvalidRegistration, err)
		}
		email = normalized
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(reg.Password), u.cost)
	if err != nil {
		return store.User{}, fmt.Errorf("hash password: %w", err)
	}
	return store.User{
		Username:     username,
		Email:        email,
		FullName:     strings.TrimSpace(reg.FullName),
		Role:         role,
		PasswordHash: string(hash),
		CreatedAt:    u.now(),
	}, nil
}
