package rooms

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kidsstream/watchparty/internal/domain"
	"github.com/kidsstream/watchparty/internal/infrastructure/json"
	"github.com/kidsstream/watchparty/internal/infrastructure/ws"
	"go.uber.org/zap"
)

// Handler is the Session Gateway's HTTP face: room creation over plain REST,
// joining over a websocket upgrade. Authorization happened upstream; by the
// time a request lands here the videoRef and the child's display name are
// trusted inputs.
type Handler struct {
	manager *ws.RoomManager
	logger  *zap.SugaredLogger
}

func NewHandler(manager *ws.RoomManager, logger *zap.SugaredLogger) *Handler {
	return &Handler{
		manager: manager,
		logger:  logger,
	}
}

func (h *Handler) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req createRoomRequest
	if err := json.Read(r, &req); err != nil {
		json.WriteValidationError(w, err)
		return
	}

	if strings.TrimSpace(req.VideoRef) == "" {
		json.WriteBadRequestError(w, "videoRef is required")
		return
	}

	room, err := h.manager.CreateRoom(r.Context(), req.VideoRef)
	if err != nil {
		if errors.Is(err, domain.ErrRoomCreationFailed) {
			json.WriteError(w, http.StatusServiceUnavailable, err, "Could not create a room right now, try again")
			return
		}
		json.WriteInternalError(w, err)
		return
	}

	resp := createRoomResponse{
		RoomID:     room.ID,
		InviteCode: room.InviteCode,
		CreatedAt:  room.CreatedAt,
	}

	json.Write(w, http.StatusCreated, resp)
}

// JoinRoomHandler upgrades the connection first, then resolves the invite
// code, so rejections arrive as error.join frames the client can show.
func (h *Handler) JoinRoomHandler(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		json.WriteBadRequestError(w, "code query parameter is required")
		return
	}

	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		json.WriteBadRequestError(w, "name query parameter is required")
		return
	}
	avatar := r.URL.Query().Get("avatar")

	conn, err := h.manager.Upgrade(w, r)
	if err != nil {
		h.logger.Warnw("websocket upgrade failed", "err", err)
		return
	}

	session, err := h.manager.Resolve(code)
	if err != nil {
		_ = conn.WriteJSON(ws.NewJoinFailed("", "Room not found"))
		_ = conn.Close()
		return
	}

	participant := domain.NewParticipant(uuid.NewString(), name, avatar)

	if err := h.manager.Attach(conn, session, participant); err != nil {
		var reason string
		switch {
		case errors.Is(err, domain.ErrRoomFull):
			reason = "Room is full"
		case errors.Is(err, domain.ErrRoomClosed), errors.Is(err, domain.ErrRoomNotFound):
			reason = "Room not found"
		default:
			reason = "Cannot join room"
		}
		_ = conn.WriteJSON(ws.NewJoinFailed(session.RoomID(), reason))
		_ = conn.Close()
		return
	}
}
