package ws

// Outbound event types.
const (
	JoinAccepted    = "join.accepted"
	MemberJoined    = "member.joined"
	MemberLeft      = "member.left"
	HostChanged     = "host.changed"
	PlaybackChanged = "playback.changed"
	ChatMessage     = "chat.message"
	ReactionEvent   = "reaction"
	RoomClosed      = "room.closed"

	ErrorEvent = "error"
	JoinFailed = "error.join"
)

// Inbound message types.
const (
	InboundPlayback  = "playback"
	InboundChat      = "chat"
	InboundReaction  = "reaction"
	InboundHeartbeat = "heartbeat"
	InboundLeave     = "leave"
)
