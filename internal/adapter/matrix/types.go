package matrix

import "encoding/json"

// --- Matrix Client-Server API types ---

type syncResponse struct {
	NextBatch string    `json:"next_batch"`
	Rooms     syncRooms `json:"rooms"`
}

type syncRooms struct {
	Join   map[string]joinedRoom `json:"join"`
	Invite map[string]invitedRoom `json:"invite"`
}

type joinedRoom struct {
	Timeline timeline `json:"timeline"`
}

type timeline struct {
	Events []event `json:"events"`
}

type invitedRoom struct {
	InviteState inviteState `json:"invite_state"`
}

type inviteState struct {
	Events []event `json:"events"`
}

type event struct {
	Type     string          `json:"type"`
	EventID  string          `json:"event_id"`
	Sender   string          `json:"sender"`
	StateKey *string         `json:"state_key,omitempty"`
	Content  json.RawMessage `json:"content"`
}

type messageContent struct {
	MsgType   string     `json:"msgtype"`
	Body      string     `json:"body"`
	RelatesTo *relatesTo `json:"m.relates_to,omitempty"`
}

type relatesTo struct {
	RelType string `json:"rel_type"`
	EventID string `json:"event_id,omitempty"`
}

type memberContent struct {
	Membership string `json:"membership"`
}

type roomNameContent struct {
	Name string `json:"name"`
}

type whoamiResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}

type loginRequest struct {
	Type                     string           `json:"type"`
	Identifier               *loginIdentifier `json:"identifier,omitempty"`
	Password                 string           `json:"password,omitempty"`
	Token                    string           `json:"token,omitempty"`
	InitialDeviceDisplayName string           `json:"initial_device_display_name,omitempty"`
}

type loginIdentifier struct {
	Type string `json:"type"`
	User string `json:"user"`
}

type loginResponse struct {
	UserID      string `json:"user_id"`
	AccessToken string `json:"access_token"`
	DeviceID    string `json:"device_id"`
}

type uploadResponse struct {
	ContentURI string `json:"content_uri"`
}

type mediaConfigResponse struct {
	UploadSize int64 `json:"m.upload.size"`
}

type errorResponse struct {
	ErrCode string `json:"errcode"`
	Error   string `json:"error"`
}
