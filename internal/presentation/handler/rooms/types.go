package rooms

import "time"

type createRoomRequest struct {
	VideoRef string `json:"videoRef"`
}

type createRoomResponse struct {
	RoomID     string    `json:"roomId"`
	InviteCode string    `json:"inviteCode"`
	CreatedAt  time.Time `json:"createdAt"`
}
