package domain

import "time"

// Participant is one active connection in a room. Identity is per connection,
// not per user: the same child joining twice holds two connection IDs.
type Participant struct {
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	AvatarRef    string    `json:"avatarRef,omitempty"`
	JoinedAt     time.Time `json:"joinedAt"`
}

func NewParticipant(connectionID, displayName, avatarRef string) Participant {
	return Participant{
		ConnectionID: connectionID,
		DisplayName:  displayName,
		AvatarRef:    avatarRef,
		JoinedAt:     time.Now(),
	}
}
