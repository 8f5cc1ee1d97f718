package domain

import "time"

const (
	reactionHistoryCap = 50
	recentReactions    = 10
)

// Reaction is an ephemeral emoji-style event. Never persisted; a bounded
// recent window is kept per room so late joiners see what the party is up to.
type Reaction struct {
	ConnectionID string    `json:"connectionId"`
	Tag          string    `json:"tag"`
	SentAt       time.Time `json:"sentAt"`
}

func (r *Room) AddReaction(reaction Reaction) {
	r.reactions = append(r.reactions, reaction)
	if len(r.reactions) > reactionHistoryCap {
		r.reactions = r.reactions[len(r.reactions)-reactionHistoryCap:]
	}
}

// RecentReactions returns the newest reactions, oldest first.
func (r *Room) RecentReactions() []Reaction {
	n := len(r.reactions)
	if n > recentReactions {
		n = recentReactions
	}
	out := make([]Reaction, n)
	copy(out, r.reactions[len(r.reactions)-n:])
	return out
}
