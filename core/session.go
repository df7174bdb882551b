package core

// Session is the acting identity of a workflow operation.
// It is built by the transport layer from the stored profile, never from client-supplied flags.
type Session struct {
	UserID  string
	IsAdmin bool
}

// RequireAdmin returns ErrForbidden unless the session belongs to an admin.
func (s Session) RequireAdmin() error {
	if !s.IsAdmin {
		return ErrForbidden
	}
	return nil
}

// CanAccess reports whether the session may act on resources owned by userID.
func (s Session) CanAccess(userID string) bool {
	return s.IsAdmin || (s.UserID != "" && s.UserID == userID)
}

// SystemSession is used by background jobs and the admin CLI.
var SystemSession = Session{UserID: "system", IsAdmin: true}
