package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kidsstream/watchparty/internal/domain"
	"github.com/kidsstream/watchparty/internal/infrastructure/events"
	"github.com/kidsstream/watchparty/internal/infrastructure/metrics"
	"github.com/kidsstream/watchparty/internal/infrastructure/registry"
	"go.uber.org/zap"
)

type Options struct {
	SendBuffer       int
	HeartbeatTimeout time.Duration
	IdleExpiry       time.Duration
}

// RoomManager maps room IDs to live sessions and drives room lifecycle:
// creation through the registry, destruction when the janitor finds a room
// idle, teardown fan-out on close. The map has its own lock; room state is
// serialized inside each session, so rooms never contend with each other.
type RoomManager struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	registry  *registry.Registry
	publisher events.RoomPublisher
	logger    *zap.SugaredLogger
	opts      Options

	upgrader websocket.Upgrader
}

func NewRoomManager(reg *registry.Registry, publisher events.RoomPublisher, logger *zap.SugaredLogger, opts Options) *RoomManager {
	if opts.HeartbeatTimeout <= 0 {
		opts.HeartbeatTimeout = 30 * time.Second
	}
	if opts.IdleExpiry <= 0 {
		opts.IdleExpiry = 5 * time.Minute
	}

	return &RoomManager{
		sessions:  make(map[string]*Session),
		registry:  reg,
		publisher: publisher,
		logger:    logger,
		opts:      opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// CreateRoom allocates a room and its live session. The creator joins over
// the websocket afterwards and becomes host as the first joiner.
func (rm *RoomManager) CreateRoom(ctx context.Context, videoRef string) (*domain.Room, error) {
	room, err := rm.registry.Create(videoRef)
	if err != nil {
		return nil, err
	}

	session := NewSession(room, rm.publisher, rm.logger)

	rm.mu.Lock()
	rm.sessions[room.ID] = session
	rm.mu.Unlock()

	metrics.RoomsActive.Set(float64(rm.registry.Len()))
	rm.publisher.RoomCreated(ctx, room)
	rm.logger.Infow("room created", "room", room.ID, "video", videoRef, "code", room.InviteCode)

	return room, nil
}

// Resolve maps an invite code to the live session, case-insensitively.
// Expired and unknown codes both come back ErrRoomNotFound.
func (rm *RoomManager) Resolve(inviteCode string) (*Session, error) {
	roomID, err := rm.registry.Resolve(inviteCode)
	if err != nil {
		return nil, err
	}
	return rm.Session(roomID)
}

func (rm *RoomManager) Session(roomID string) (*Session, error) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	session, ok := rm.sessions[roomID]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return session, nil
}

// DestroyRoom tears a room down and frees its invite code immediately.
// Idempotent; safe against concurrent joins racing the teardown because the
// session rejects joins once closed.
func (rm *RoomManager) DestroyRoom(ctx context.Context, roomID, reason string) {
	rm.mu.Lock()
	session, ok := rm.sessions[roomID]
	if ok {
		delete(rm.sessions, roomID)
	}
	rm.mu.Unlock()

	if !ok {
		return
	}

	session.Close(reason)
	rm.registry.Destroy(roomID)

	metrics.RoomsActive.Set(float64(rm.registry.Len()))
	rm.publisher.RoomClosed(ctx, roomID, reason)
	rm.logger.Infow("room destroyed", "room", roomID, "reason", reason)
}

// Attach registers an upgraded connection with the session and starts its
// pumps. The join.accepted frame is queued first so it precedes any fan-out.
func (rm *RoomManager) Attach(conn *websocket.Conn, session *Session, p domain.Participant) error {
	client := NewClient(conn, session, p.ConnectionID, rm.opts.SendBuffer, rm.opts.HeartbeatTimeout, rm.logger)

	if err := session.Join(client, p); err != nil {
		return err
	}

	go client.WritePump()
	go client.ReadPump()
	return nil
}

func (rm *RoomManager) Upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return rm.upgrader.Upgrade(w, r, nil)
}

// RunJanitor destroys rooms that stayed empty past the idle expiry. Blocks
// until ctx is done.
func (rm *RoomManager) RunJanitor(ctx context.Context) {
	interval := rm.opts.IdleExpiry / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rm.sweep(ctx)
		}
	}
}

func (rm *RoomManager) sweep(ctx context.Context) {
	cutoff := time.Now().Add(-rm.opts.IdleExpiry)

	rm.mu.RLock()
	var expired []string
	for roomID, session := range rm.sessions {
		if session.EmptySince(cutoff) {
			expired = append(expired, roomID)
		}
	}
	rm.mu.RUnlock()

	for _, roomID := range expired {
		rm.DestroyRoom(ctx, roomID, "idle")
	}
}
