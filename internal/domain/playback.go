package domain

import "time"

type CommandKind string

const (
	CommandPlay  CommandKind = "play"
	CommandPause CommandKind = "pause"
	CommandSeek  CommandKind = "seek"
)

// Command is a host-issued transport command. ObservedRevision is the playback
// revision the sender had seen when issuing it; commands that raced a newer
// mutation are dropped rather than applied retroactively.
type Command struct {
	Kind             CommandKind `json:"kind"`
	Position         float64     `json:"position,omitempty"`
	ObservedRevision uint64      `json:"observedRevision"`
}

// PlaybackState is the authoritative transport state of a room. Revision
// increments on every accepted mutation, which makes duplicate or reordered
// delivery safe to ignore on the receiving side.
type PlaybackState struct {
	Position  float64   `json:"positionSeconds"`
	Playing   bool      `json:"isPlaying"`
	UpdatedAt time.Time `json:"lastUpdatedAt"`
	Revision  uint64    `json:"revision"`
}

// Apply mutates the state for an accepted command. Stale commands return
// ErrStaleCommand and leave the state untouched.
func (s *PlaybackState) Apply(cmd Command, now time.Time) error {
	if cmd.ObservedRevision < s.Revision {
		return ErrStaleCommand
	}

	switch cmd.Kind {
	case CommandPlay:
		// Materialize the running position first; restamping UpdatedAt
		// alone would rewind clients already extrapolating from it.
		s.Position = s.extrapolate(now)
		s.Playing = true
	case CommandPause:
		// Freeze the clock at the position clients are actually at.
		s.Position = s.extrapolate(now)
		s.Playing = false
	case CommandSeek:
		pos := cmd.Position
		if pos < 0 {
			pos = 0
		}
		s.Position = pos
	default:
		return ErrInvalidInput
	}

	s.UpdatedAt = now
	s.Revision++
	return nil
}

// CatchUp returns the state with the position advanced by elapsed wall-clock
// time while playing, so a client joining mid-playback starts caught up.
func (s PlaybackState) CatchUp(now time.Time) PlaybackState {
	s.Position = s.extrapolate(now)
	s.UpdatedAt = now
	return s
}

func (s PlaybackState) extrapolate(now time.Time) float64 {
	if !s.Playing || s.UpdatedAt.IsZero() {
		return s.Position
	}
	elapsed := now.Sub(s.UpdatedAt).Seconds()
	if elapsed <= 0 {
		return s.Position
	}
	return s.Position + elapsed
}
