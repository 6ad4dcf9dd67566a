package domain

type SessionID string

type SessionStatus string

const (
	SessionActive SessionStatus = "active"
	SessionClosed SessionStatus = "closed"
)

// ChatSession is owned by the external session directory and read-only here.
// A closed session accepts no new joins.
type ChatSession struct {
	ID           SessionID
	Participants []string
	Status       SessionStatus
}

func (s ChatSession) HasParticipant(userID string) bool {
	for _, p := range s.Participants {
		if p == userID {
			return true
		}
	}
	return false
}
