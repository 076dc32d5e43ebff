package gate

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"fleet-steward/agent/internal/logger"
)

var ErrUnauthorized = errors.New("caller not authorized")

type Tier int

const (
	// Privileged may install, update, uninstall, reboot, apply policy and read status.
	Privileged Tier = iota
	// Liveness may only report heartbeats. Privileged callers pass it too.
	Liveness
)

func (t Tier) String() string {
	if t == Liveness {
		return "liveness"
	}
	return "privileged"
}

// Caller is the OS identity of the process on the other end of the local channel.
type Caller struct {
	UID int
	PID int
}

// Resolver maps OS identities to principal names and their signing identity.
type Resolver interface {
	Candidates(c Caller) []string
	SigningIdentity(name string) (string, bool)
}

// AuthorizationError is returned for rejected calls. Reason stays generic.
type AuthorizationError struct {
	Op     string
	UID    int
	Reason string
}

func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("%s: uid %d: %s", e.Op, e.UID, e.Reason)
}

func (e *AuthorizationError) Is(target error) bool { return target == ErrUnauthorized }

type Config struct {
	Privileged  []string
	Liveness    []string
	OwnIdentity string
}

// Gate decides whether a local caller may run an operation. Its trust state is
// fixed at construction.
type Gate struct {
	privileged map[string]struct{}
	liveness   map[string]struct{}
	own        []byte
	resolver   Resolver
}

func New(cfg Config, resolver Resolver) *Gate {
	g := &Gate{
		privileged: toSet(cfg.Privileged),
		liveness:   toSet(cfg.Liveness),
		own:        []byte(cfg.OwnIdentity),
		resolver:   resolver,
	}
	for name := range g.privileged {
		g.liveness[name] = struct{}{}
	}
	return g
}

func toSet(names []string) map[string]struct{} {
	m := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n != "" {
			m[n] = struct{}{}
		}
	}
	return m
}

// Authorize accepts the call when some candidate name of the caller is listed for
// the tier and carries the same signing identity as the agent itself.
func (g *Gate) Authorize(c Caller, tier Tier, op string) error {
	reason := g.check(c, tier)
	if reason == "" {
		return nil
	}
	logger.L.Warn().Str("op", op).Int("uid", c.UID).Msg("local call rejected")
	return &AuthorizationError{Op: op, UID: c.UID, Reason: reason}
}

func (g *Gate) check(c Caller, tier Tier) string {
	candidates := g.resolver.Candidates(c)
	if len(candidates) == 0 {
		return "caller identity unknown"
	}
	if len(g.own) == 0 {
		return "agent signing identity unavailable"
	}
	allow := g.privileged
	if tier == Liveness {
		allow = g.liveness
	}
	for _, name := range candidates {
		if _, ok := allow[name]; !ok {
			continue
		}
		id, ok := g.resolver.SigningIdentity(name)
		if ok && subtle.ConstantTimeCompare([]byte(id), g.own) == 1 {
			return ""
		}
	}
	return "caller not trusted for " + tier.String() + " operations"
}
