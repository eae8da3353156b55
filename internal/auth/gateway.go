package auth

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TokenHeader carries the session token on outgoing requests in token mode.
const TokenHeader = "X-Slidehub-Token"

// WriteChecker asks the server whether the current session may write a
// resource. Implemented by the transport layer's auth client.
type WriteChecker interface {
	CheckWrite(ctx context.Context, resourceID string) (bool, error)
}

// Gateway owns the active session, answers authorization queries, and signs
// outgoing requests. It is the single holder of auth state; there are no
// package-level globals.
type Gateway struct {
	mu      sync.RWMutex
	session Session

	cache   *permissionCache
	checker WriteChecker
	log     *slog.Logger
	tracer  trace.Tracer
}

func NewGateway(log *slog.Logger) *Gateway {
	return &Gateway{
		session: Session{Mode: ModeUnauthenticated},
		cache:   newPermissionCache(),
		log:     log,
		tracer:  otel.Tracer("slidehub/auth"),
	}
}

// SetWriteChecker binds the remote permission query. Bound once at wiring
// time, after the transport (which in turn signs via this gateway) exists.
func (g *Gateway) SetWriteChecker(checker WriteChecker) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checker = checker
}

// SetSession replaces the active session. Absent or unparseable credentials
// force the session back to unauthenticated rather than erroring: callers
// always end up with a well-defined session. The permission cache and the
// login-prompt suppression flag belong to the old session and are reset.
func (g *Gateway) SetSession(s Session) {
	switch s.Mode {
	case ModeCredential:
		if s.Username == "" || s.Password == "" {
			s = Session{Mode: ModeUnauthenticated}
		}
	case ModeToken:
		claims, err := parseTokenClaims(s.Token)
		if err != nil {
			g.log.Warn("rejecting token session", "error", err)
			s = Session{Mode: ModeUnauthenticated}
			break
		}
		s.UserID = claims.Subject
		s.OrgID = claims.OrgID
		s.Roles = s.Roles[:0]
		for _, r := range claims.Roles {
			s.Roles = append(s.Roles, Role(r))
		}
	}
	s.suppressLoginPrompt = false

	g.mu.Lock()
	g.session = s
	g.mu.Unlock()
	g.cache.invalidateAll()
}

// Logout clears credential, token, roles, and the entire permission cache.
// Readers observe either the old session with its cache or the cleared one.
func (g *Gateway) Logout() {
	g.mu.Lock()
	g.session = Session{Mode: ModeUnauthenticated}
	g.cache.invalidateAll()
	g.mu.Unlock()
}

// Session returns a copy of the active session.
func (g *Gateway) Session() Session {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session
}

func (g *Gateway) Mode() Mode {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session.Mode
}

func (g *Gateway) HasRole(role Role) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session.HasRole(role)
}

// SuppressLoginPrompt reports the session-scoped "don't ask again" flag for
// the sync login prompt.
func (g *Gateway) SuppressLoginPrompt() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.session.suppressLoginPrompt
}

func (g *Gateway) SetSuppressLoginPrompt(suppress bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.session.suppressLoginPrompt = suppress
}

// HasWriteAccess reports whether the current session may write resourceID.
// The answer is memoized per resource for the lifetime of the session. "Not
// authorized" is a false return, never an error; only a transport failure
// propagates, because treating it as "no access" would let sync take a
// destructive fallback branch on a flaky network.
func (g *Gateway) HasWriteAccess(ctx context.Context, resourceID string) (bool, error) {
	if allowed, ok := g.cache.get(resourceID); ok {
		return allowed, nil
	}

	g.mu.RLock()
	checker := g.checker
	g.mu.RUnlock()
	if checker == nil {
		return false, nil
	}

	ctx, span := g.tracer.Start(ctx, "auth.check_write",
		trace.WithAttributes(attribute.String("resource.id", resourceID)))
	defer span.End()

	allowed, err := checker.CheckWrite(ctx, resourceID)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	g.cache.put(resourceID, allowed)
	return allowed, nil
}

// IsOwner reports whether the current session owns the resource owned by
// ownerID. Pure session-state logic, no network. The precedence is fixed:
// a session that cannot write at all owns nothing; admin owns everything;
// then personal ownership, then organization ownership.
func (g *Gateway) IsOwner(ownerID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	s := &g.session
	switch {
	case !s.canWrite():
		return false
	case s.HasRole(RoleAdmin):
		return true
	case ownerID == s.UserID && s.HasRole(RoleManagePersonal):
		return true
	case ownerID == s.OrgID && s.HasRole(RoleManageResources):
		return true
	default:
		return false
	}
}

// AuthorizeRequest attaches the session's credentials to an outgoing
// request: Basic auth in credential mode, the token header in token mode,
// nothing when unauthenticated or guest.
func (g *Gateway) AuthorizeRequest(req *http.Request) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	switch g.session.Mode {
	case ModeCredential:
		req.SetBasicAuth(g.session.Username, g.session.Password)
	case ModeToken:
		req.Header.Set(TokenHeader, g.session.Token)
	}
}
