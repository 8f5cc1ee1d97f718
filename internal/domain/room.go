package domain

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	DefaultMaxParticipants = 10
	DefaultInviteCodeLen   = 6

	// Excludes 0/O and 1/I so codes survive being read aloud.
	inviteCodeChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

var (
	charsetLen = big.NewInt(int64(len(inviteCodeChars)))

	ErrRoomNotFound        = errors.New("room not found")
	ErrRoomFull            = errors.New("room is full")
	ErrRoomClosed          = errors.New("room is closed")
	ErrRoomCreationFailed  = errors.New("room creation failed")
	ErrParticipantNotFound = errors.New("participant not found")
	ErrAlreadyJoined       = errors.New("already joined")
	ErrNotHost             = errors.New("not the host")
	ErrStaleCommand        = errors.New("stale command")
	ErrInvalidInput        = errors.New("invalid input")
)

// Room is a single watch-party session. It is not safe for concurrent use;
// callers serialize access per room (see ws.Session).
type Room struct {
	ID         string    `json:"id"`
	InviteCode string    `json:"inviteCode"`
	VideoRef   string    `json:"videoRef"`
	CreatedAt  time.Time `json:"createdAt"`

	// HostID is the connection ID of the current host. Empty only while the
	// room has no participants.
	HostID string `json:"hostId,omitempty"`

	// Participants is kept in join order; index 0 is the longest-tenured
	// participant and the handover target when the host leaves.
	Participants []Participant `json:"participants"`

	Playback PlaybackState `json:"playback"`

	maxParticipants int
	reactions       []Reaction
}

func NewRoom(videoRef, inviteCode string, maxParticipants int) *Room {
	if maxParticipants <= 0 {
		maxParticipants = DefaultMaxParticipants
	}

	return &Room{
		ID:              uuid.NewString(),
		InviteCode:      NormalizeInviteCode(inviteCode),
		VideoRef:        videoRef,
		CreatedAt:       time.Now(),
		Participants:    make([]Participant, 0, maxParticipants),
		maxParticipants: maxParticipants,
	}
}

// Join adds p to the roster. The first joiner becomes host.
func (r *Room) Join(p Participant) error {
	if p.ConnectionID == "" {
		return ErrInvalidInput
	}
	if len(r.Participants) >= r.maxParticipants {
		return ErrRoomFull
	}
	for _, existing := range r.Participants {
		if existing.ConnectionID == p.ConnectionID {
			return ErrAlreadyJoined
		}
	}

	r.Participants = append(r.Participants, p)
	if r.HostID == "" {
		r.HostID = p.ConnectionID
	}
	return nil
}

// Leave removes the participant with the given connection ID, preserving join
// order. If the host left and anyone remains, the longest-tenured participant
// is promoted and returned as newHost; the roster is never observably hostless.
func (r *Room) Leave(connectionID string) (left Participant, newHost *Participant, err error) {
	idx := -1
	for i, p := range r.Participants {
		if p.ConnectionID == connectionID {
			idx = i
			break
		}
	}
	if idx == -1 {
		return Participant{}, nil, ErrParticipantNotFound
	}

	left = r.Participants[idx]
	r.Participants = append(r.Participants[:idx], r.Participants[idx+1:]...)

	if r.HostID == connectionID {
		if len(r.Participants) > 0 {
			r.HostID = r.Participants[0].ConnectionID
			newHost = &r.Participants[0]
		} else {
			r.HostID = ""
		}
	}
	return left, newHost, nil
}

func (r *Room) IsHost(connectionID string) bool {
	return r.HostID != "" && r.HostID == connectionID
}

func (r *Room) FindParticipant(connectionID string) *Participant {
	for i := range r.Participants {
		if r.Participants[i].ConnectionID == connectionID {
			return &r.Participants[i]
		}
	}
	return nil
}

func (r *Room) Empty() bool {
	return len(r.Participants) == 0
}

// Roster returns a copy of the participant list in join order.
func (r *Room) Roster() []Participant {
	out := make([]Participant, len(r.Participants))
	copy(out, r.Participants)
	return out
}

// ApplyCommand applies a host transport command to the playback state.
// Returns ErrNotHost for non-host senders and ErrStaleCommand when the
// command observed an older revision than the room currently holds.
func (r *Room) ApplyCommand(connectionID string, cmd Command, now time.Time) (PlaybackState, error) {
	if !r.IsHost(connectionID) {
		return PlaybackState{}, ErrNotHost
	}
	if err := r.Playback.Apply(cmd, now); err != nil {
		return PlaybackState{}, err
	}
	return r.Playback, nil
}

// NormalizeInviteCode maps user input onto the canonical stored form.
func NormalizeInviteCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func GenerateInviteCode(length int) (string, error) {
	if length <= 0 {
		length = DefaultInviteCodeLen
	}

	var sb strings.Builder
	sb.Grow(length)

	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, charsetLen)
		if err != nil {
			return "", err
		}
		sb.WriteByte(inviteCodeChars[n.Int64()])
	}

	return sb.String(), nil
}
