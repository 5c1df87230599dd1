package domain

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

const (
	ScopeRead    = "read"
	ScopeWrite   = "write"
	ScopeTrigger = "trigger"
	ScopeAll     = "*"
)

// Client is an API principal authenticated with client credentials.
type Client struct {
	ID        string
	Secret    string // bcrypt hash
	Label     string
	Scopes    []string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewClient(label string, hashedSecret string, scopes []string) *Client {
	now := time.Now().UTC()
	return &Client{
		ID:        uuid.New().String(),
		Secret:    hashedSecret,
		Label:     label,
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func HasScope(scopes []string, want string) bool {
	return slices.Contains(scopes, ScopeAll) || slices.Contains(scopes, want)
}
