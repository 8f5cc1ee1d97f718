package rooms

import (
	"bytes"
	"context"
	gojson "encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/kidsstream/watchparty/internal/infrastructure/events"
	"github.com/kidsstream/watchparty/internal/infrastructure/registry"
	"github.com/kidsstream/watchparty/internal/infrastructure/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestServer(t *testing.T) (*httptest.Server, *ws.RoomManager) {
	t.Helper()

	logger := zap.NewNop().Sugar()
	reg := registry.New(10, 10, 6)
	manager := ws.NewRoomManager(reg, events.NopPublisher{}, logger, ws.Options{
		SendBuffer:       16,
		HeartbeatTimeout: 5 * time.Second,
		IdleExpiry:       time.Minute,
	})
	handler := NewHandler(manager, logger)

	r := chi.NewRouter()
	r.Post("/api/rooms", handler.CreateRoomHandler)
	r.Get("/api/rooms/join", handler.JoinRoomHandler)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, manager
}

func createRoom(t *testing.T, srv *httptest.Server) createRoomResponse {
	t.Helper()

	resp, err := http.Post(srv.URL+"/api/rooms", "application/json", bytes.NewBufferString(`{"videoRef":"video-1"}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body createRoomResponse
	require.NoError(t, gojson.NewDecoder(resp.Body).Decode(&body))
	return body
}

// envelope mirrors the wire form of ws.WSMessage with the payload left raw.
type envelope struct {
	Type   string            `json:"type"`
	RoomID string            `json:"roomId"`
	Data   gojson.RawMessage `json:"data"`
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/rooms/join?" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) envelope {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg envelope
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestCreateRoom(t *testing.T) {
	srv, _ := newTestServer(t)

	room := createRoom(t, srv)
	assert.NotEmpty(t, room.RoomID)
	assert.Len(t, room.InviteCode, 6)
	assert.False(t, room.CreatedAt.IsZero())
}

func TestCreateRoomRequiresVideoRef(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/rooms", "application/json", bytes.NewBufferString(`{"videoRef":"  "}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateRoomRejectsMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Post(srv.URL+"/api/rooms", "application/json", bytes.NewBufferString(`{"videoRef":`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestJoinValidatesQueryBeforeUpgrade(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, query := range []string{"", "code=ABC234", "name=Alice"} {
		resp, err := http.Get(srv.URL + "/api/rooms/join?" + query)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "query %q", query)
	}
}

func TestJoinUnknownCodeFailsOverTheSocket(t *testing.T) {
	srv, _ := newTestServer(t)

	conn := dial(t, srv, "code=NOSUCH&name=Alice")
	msg := readEnvelope(t, conn)
	assert.Equal(t, ws.JoinFailed, msg.Type)
}

func TestJoinDeliversRoomStateThenFansOut(t *testing.T) {
	srv, _ := newTestServer(t)
	room := createRoom(t, srv)

	// Codes resolve case-insensitively.
	alice := dial(t, srv, "code="+strings.ToLower(room.InviteCode)+"&name=Alice")
	accepted := readEnvelope(t, alice)
	require.Equal(t, ws.JoinAccepted, accepted.Type)
	assert.Equal(t, room.RoomID, accepted.RoomID)

	var payload ws.JoinAcceptedPayload
	require.NoError(t, gojson.Unmarshal(accepted.Data, &payload))
	assert.True(t, payload.Participant.IsHost)
	assert.Equal(t, uint64(0), payload.Playback.Revision)

	bob := dial(t, srv, "code="+room.InviteCode+"&name=Bob")
	bobAccepted := readEnvelope(t, bob)
	require.Equal(t, ws.JoinAccepted, bobAccepted.Type)

	joined := readEnvelope(t, alice)
	require.Equal(t, ws.MemberJoined, joined.Type)

	var member ws.ParticipantPayload
	require.NoError(t, gojson.Unmarshal(joined.Data, &member))
	assert.Equal(t, "Bob", member.DisplayName)
	assert.False(t, member.IsHost)
}

func TestRoomCloseReachesParticipantsBeforeDisconnect(t *testing.T) {
	srv, manager := newTestServer(t)
	room := createRoom(t, srv)

	conn := dial(t, srv, "code="+room.InviteCode+"&name=Alice")
	accepted := readEnvelope(t, conn)
	require.Equal(t, ws.JoinAccepted, accepted.Type)

	manager.DestroyRoom(context.Background(), room.RoomID, "shutdown")

	// The closing frame is drained to the wire before the teardown kills
	// the connection.
	msg := readEnvelope(t, conn)
	require.Equal(t, ws.RoomClosed, msg.Type)

	var payload ws.RoomClosedPayload
	require.NoError(t, gojson.Unmarshal(msg.Data, &payload))
	assert.Equal(t, "shutdown", payload.Reason)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestHostCommandsReachEveryParticipant(t *testing.T) {
	srv, _ := newTestServer(t)
	room := createRoom(t, srv)

	host := dial(t, srv, "code="+room.InviteCode+"&name=Host")
	readEnvelope(t, host) // join.accepted

	guest := dial(t, srv, "code="+room.InviteCode+"&name=Guest")
	readEnvelope(t, guest) // join.accepted
	readEnvelope(t, host)  // member.joined

	require.NoError(t, host.WriteJSON(map[string]any{
		"type": "playback",
		"data": map[string]any{"kind": "play", "observedRevision": 0},
	}))

	for _, conn := range []*websocket.Conn{host, guest} {
		msg := readEnvelope(t, conn)
		require.Equal(t, ws.PlaybackChanged, msg.Type)
	}

	// A guest trying the transport gets a private error, nothing broadcast.
	require.NoError(t, guest.WriteJSON(map[string]any{
		"type": "playback",
		"data": map[string]any{"kind": "pause", "observedRevision": 1},
	}))
	msg := readEnvelope(t, guest)
	assert.Equal(t, ws.ErrorEvent, msg.Type)
}
