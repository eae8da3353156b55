package auth

// Mode is the authentication mode of the active session.
type Mode int

const (
	ModeUnauthenticated Mode = iota
	ModeGuest
	ModeCredential
	ModeToken
)

func (m Mode) String() string {
	switch m {
	case ModeGuest:
		return "guest"
	case ModeCredential:
		return "credential"
	case ModeToken:
		return "token"
	default:
		return "unauthenticated"
	}
}

// Role names granted to a session by the server.
type Role string

const (
	RoleAdmin           Role = "admin"
	RoleManagePersonal  Role = "manage-personal-resources"
	RoleManageResources Role = "manage-resources"
)

// Session is the process-wide authentication state: who the user is, how
// requests get signed, and which roles the server granted. Exactly one
// session is active per Gateway; it is replaced wholesale by SetSession and
// reset by Logout, never mutated field by field from outside.
type Session struct {
	Mode     Mode
	Username string
	Password string
	Token    string
	UserID   string
	OrgID    string
	Roles    []Role

	// suppressLoginPrompt is the session-scoped "don't ask again" flag for
	// the sync login prompt. It dies with the session.
	suppressLoginPrompt bool
}

// HasRole reports whether the session was granted the given role.
func (s *Session) HasRole(role Role) bool {
	for _, r := range s.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// canWrite reports whether the session is capable of writing at all, i.e.
// it carries credentials the server could accept for a mutating request.
func (s *Session) canWrite() bool {
	return s.Mode == ModeCredential || s.Mode == ModeToken
}
