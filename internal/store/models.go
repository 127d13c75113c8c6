package store

import "time"

const (
	RoleAdmin     = "admin"
	RoleCandidate = "candidate"
)

type User struct {
	Username     string
	Email        string
	FullName     string
	Role         string
	Disabled     bool
	PasswordHash string
	CreatedAt    time.Time
	LastLogin    time.Time
}
