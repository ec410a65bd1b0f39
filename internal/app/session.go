package app

import (
	"context"
	"strings"
	"sync"

	"gauntlet-service/internal/domain"
)

// DefaultProctorName is the reserved login name that carries the proctor role.
const DefaultProctorName = "PROCTOR"

// Binding ties one live connection to an identity.
type Binding struct {
	ConnID   string
	Identity domain.Identity
}

// SessionRegistry maps live connections to identities (in-memory, Redis, etc).
type SessionRegistry interface {
	Bind(ctx context.Context, connID string, identity domain.Identity) error
	Lookup(ctx context.Context, connID string) (domain.Identity, bool, error)
	Unbind(ctx context.Context, connID string) error
	Connections(ctx context.Context, groupID int64) ([]Binding, error)
}

// RoleFor derives the role from the login name. It is evaluated once, at login.
func RoleFor(name, proctorName string) domain.Role {
	if proctorName == "" {
		proctorName = DefaultProctorName
	}
	if strings.EqualFold(strings.TrimSpace(name), proctorName) {
		return domain.RoleProctor
	}
	return domain.RolePlayer
}

// NormalizeCode canonicalizes a group access code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// groupLocks serializes state mutations per group.
type groupLocks struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newGroupLocks() *groupLocks {
	return &groupLocks{locks: make(map[int64]*sync.Mutex)}
}

func (g *groupLocks) lock(groupID int64) func() {
	g.mu.Lock()
	l, ok := g.locks[groupID]
	if !ok {
		l = &sync.Mutex{}
		g.locks[groupID] = l
	}
	g.mu.Unlock()

	l.Lock()
	return l.Unlock
}
