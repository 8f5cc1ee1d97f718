package registry

import (
	"sync"

	"github.com/kidsstream/watchparty/internal/domain"
)

const (
	defaultMaxRooms = 100
	maxCodeAttempts = 5
)

// Registry is the process-wide room index: room ID -> room and
// invite code -> room ID. It owns room creation and destruction; roster and
// playback mutation happen elsewhere, under each room's own serialization
// point. Invite codes are freed the instant a room is destroyed and are
// immediately reusable.
type Registry struct {
	mu        sync.RWMutex
	rooms     map[string]*domain.Room // ID -> Room
	codeIndex map[string]string       // invite code -> room ID

	maxRooms        int
	maxParticipants int
	codeLength      int

	// generate is swappable in tests to force collisions.
	generate func(length int) (string, error)
}

func New(maxRooms, maxParticipants, codeLength int) *Registry {
	if maxRooms <= 0 {
		maxRooms = defaultMaxRooms
	}

	return &Registry{
		rooms:           make(map[string]*domain.Room),
		codeIndex:       make(map[string]string),
		maxRooms:        maxRooms,
		maxParticipants: maxParticipants,
		codeLength:      codeLength,
		generate:        domain.GenerateInviteCode,
	}
}

// Create allocates a room with a collision-free invite code. Code generation
// retries a bounded number of times and fails closed with
// ErrRoomCreationFailed; it never loops indefinitely.
func (r *Registry) Create(videoRef string) (*domain.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.rooms) >= r.maxRooms {
		return nil, domain.ErrRoomCreationFailed
	}

	var code string
	for attempt := 0; ; attempt++ {
		if attempt >= maxCodeAttempts {
			return nil, domain.ErrRoomCreationFailed
		}
		generated, err := r.generate(r.codeLength)
		if err != nil {
			return nil, domain.ErrRoomCreationFailed
		}
		generated = domain.NormalizeInviteCode(generated)
		if _, taken := r.codeIndex[generated]; !taken {
			code = generated
			break
		}
	}

	room := domain.NewRoom(videoRef, code, r.maxParticipants)
	r.rooms[room.ID] = room
	r.codeIndex[room.InviteCode] = room.ID

	return room, nil
}

// Resolve maps an invite code to a room ID, case-insensitively. Expired and
// never-existed codes are indistinguishable: both are ErrRoomNotFound.
func (r *Registry) Resolve(code string) (string, error) {
	code = domain.NormalizeInviteCode(code)

	r.mu.RLock()
	defer r.mu.RUnlock()

	roomID, ok := r.codeIndex[code]
	if !ok {
		return "", domain.ErrRoomNotFound
	}
	return roomID, nil
}

// Destroy removes a room and frees its invite code. Idempotent; destroying an
// unknown room is a no-op.
func (r *Registry) Destroy(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return
	}
	delete(r.rooms, roomID)
	delete(r.codeIndex, room.InviteCode)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
