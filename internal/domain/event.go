package domain

// RoomMessage is a text-bearing timeline event from a joined room.
// Events only reach this type if the sync response listed the room under
// the "join" section; membership filtering happens at the adapter.
type RoomMessage struct {
	RoomID  string
	EventID string
	Sender  string
	// MsgType is the Matrix msgtype, e.g. "m.text".
	MsgType string
	Body    string
	// IsEdit is true when the event carries an m.replace relation, i.e.
	// it edits a prior message.
	IsEdit bool
}

// RoomInvite is an invitation addressed to this account.
type RoomInvite struct {
	RoomID string
	Sender string
	// RoomName is the invited room's advertised name, when the stripped
	// invite state included one.
	RoomName string
}

// SyncUpdate is the result of one incremental sync iteration.
type SyncUpdate struct {
	NextBatch string
	Messages  []RoomMessage
	Invites   []RoomInvite
}

// SessionState is the durable material needed to resume a sync session.
type SessionState struct {
	Homeserver  string `json:"homeserver"`
	UserID      string `json:"user_id"`
	DeviceID    string `json:"device_id"`
	AccessToken string `json:"access_token"`
}
