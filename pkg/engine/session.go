package engine

// SessionRegistry holds the identity of the local participant. Handlers use
// it to answer "is this me" when deciding whether an event concerns the
// local user or a remote one.
type SessionRegistry struct {
	userID string
}

// NewSessionRegistry creates a registry for the given local user id.
func NewSessionRegistry(userID string) *SessionRegistry {
	return &SessionRegistry{userID: userID}
}

// LocalUserID returns the local participant's user id.
func (s *SessionRegistry) LocalUserID() string {
	return s.userID
}

// IsLocal reports whether the given user id is the local participant.
func (s *SessionRegistry) IsLocal(userID string) bool {
	return userID == s.userID
}
