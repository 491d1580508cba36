package matrix

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"fxbot/internal/domain"
)

type memStore struct {
	state domain.SessionState
	err   error
}

func (s *memStore) Save(_ context.Context, state domain.SessionState) error {
	s.state = state
	return nil
}

func (s *memStore) Load(_ context.Context) (domain.SessionState, error) {
	return s.state, s.err
}

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	store := &memStore{state: domain.SessionState{
		Homeserver:  server.URL,
		UserID:      "@fx:example.org",
		AccessToken: "syt_token",
	}}
	client, err := NewClient(Config{Store: store, SyncTimeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, server
}

func stdHandler(t *testing.T, extra func(w http.ResponseWriter, r *http.Request) bool) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/account/whoami"):
			json.NewEncoder(w).Encode(whoamiResponse{UserID: "@fx:example.org", DeviceID: "DEV"})
		case strings.HasSuffix(r.URL.Path, "/media/config"):
			json.NewEncoder(w).Encode(map[string]int64{"m.upload.size": 1024})
		default:
			if extra != nil && extra(w, r) {
				return
			}
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func TestResumeValidatesSession(t *testing.T) {
	client, _ := newTestClient(t, stdHandler(t, nil))

	userID, err := client.Resume(context.Background())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if userID != "@fx:example.org" {
		t.Errorf("userID = %q", userID)
	}
	if client.maxUpload != 1024 {
		t.Errorf("maxUpload = %d", client.maxUpload)
	}
}

func TestResumeRejectsUserMismatch(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(whoamiResponse{UserID: "@other:example.org"})
	}))

	if _, err := client.Resume(context.Background()); err == nil {
		t.Fatal("expected mismatch error")
	}
}

func TestResumeWithoutSession(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	defer server.Close()

	client, err := NewClient(Config{Store: &memStore{}})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := client.Resume(context.Background()); err != domain.ErrNoSession {
		t.Fatalf("err = %v, want ErrNoSession", err)
	}
}

func TestSyncParsesMessagesAndInvites(t *testing.T) {
	self := "@fx:example.org"
	other := "@other:example.org"
	syncBody := syncResponse{
		NextBatch: "s2",
		Rooms: syncRooms{
			Join: map[string]joinedRoom{
				"!room:example.org": {Timeline: timeline{Events: []event{
					{
						Type: "m.room.message", EventID: "$1", Sender: "@alice:example.org",
						Content: json.RawMessage(`{"msgtype":"m.text","body":"hello"}`),
					},
					{
						Type: "m.room.message", EventID: "$2", Sender: "@alice:example.org",
						Content: json.RawMessage(`{"msgtype":"m.text","body":"* edited","m.relates_to":{"rel_type":"m.replace","event_id":"$1"}}`),
					},
					{
						Type: "m.room.member", EventID: "$3", Sender: "@alice:example.org",
						Content: json.RawMessage(`{"membership":"join"}`),
					},
				}}},
			},
			Invite: map[string]invitedRoom{
				"!invited:example.org": {InviteState: inviteState{Events: []event{
					{Type: "m.room.name", Sender: "@bob:example.org", Content: json.RawMessage(`{"name":"fx test"}`)},
					{Type: "m.room.member", Sender: "@bob:example.org", StateKey: &self, Content: json.RawMessage(`{"membership":"invite"}`)},
				}}},
				"!foreign:example.org": {InviteState: inviteState{Events: []event{
					{Type: "m.room.member", Sender: "@bob:example.org", StateKey: &other, Content: json.RawMessage(`{"membership":"invite"}`)},
				}}},
			},
		},
	}

	client, _ := newTestClient(t, stdHandler(t, func(w http.ResponseWriter, r *http.Request) bool {
		if strings.Contains(r.URL.Path, "/sync") {
			if got := r.URL.Query().Get("since"); got != "s1" {
				t.Errorf("since = %q", got)
			}
			json.NewEncoder(w).Encode(syncBody)
			return true
		}
		return false
	}))
	if _, err := client.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}

	update, err := client.Sync(context.Background(), "s1")
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if update.NextBatch != "s2" {
		t.Errorf("NextBatch = %q", update.NextBatch)
	}
	if len(update.Messages) != 2 {
		t.Fatalf("Messages = %d, want 2", len(update.Messages))
	}
	if update.Messages[0].IsEdit || !update.Messages[1].IsEdit {
		t.Errorf("edit flags wrong: %+v", update.Messages)
	}
	if len(update.Invites) != 1 {
		t.Fatalf("Invites = %d, want 1 (foreign invite must be dropped)", len(update.Invites))
	}
	invite := update.Invites[0]
	if invite.RoomID != "!invited:example.org" || invite.RoomName != "fx test" || invite.Sender != "@bob:example.org" {
		t.Errorf("invite = %+v", invite)
	}
}

func TestSendText(t *testing.T) {
	var gotPath, gotBody string
	client, _ := newTestClient(t, stdHandler(t, func(w http.ResponseWriter, r *http.Request) bool {
		if strings.Contains(r.URL.Path, "/send/m.room.message/") {
			gotPath = r.URL.Path
			data, _ := io.ReadAll(r.Body)
			gotBody = string(data)
			json.NewEncoder(w).Encode(map[string]string{"event_id": "$sent"})
			return true
		}
		return false
	}))
	if _, err := client.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := client.SendText(context.Background(), "!room:example.org", "summary text"); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	// r.URL.Path is the decoded form of the escaped request path.
	if !strings.Contains(gotPath, "/rooms/!room:example.org/send/m.room.message/") {
		t.Errorf("path = %q", gotPath)
	}
	if !strings.Contains(gotBody, `"msgtype":"m.text"`) || !strings.Contains(gotBody, "summary text") {
		t.Errorf("body = %q", gotBody)
	}
}

func TestSendAttachmentUploadsThenSends(t *testing.T) {
	var uploads []string
	var message map[string]any

	client, _ := newTestClient(t, stdHandler(t, func(w http.ResponseWriter, r *http.Request) bool {
		switch {
		case strings.Contains(r.URL.Path, "/media/v3/upload"):
			data, _ := io.ReadAll(r.Body)
			uploads = append(uploads, r.URL.Query().Get("filename")+":"+string(data))
			json.NewEncoder(w).Encode(uploadResponse{ContentURI: "mxc://example.org/m" + r.URL.Query().Get("filename")})
			return true
		case strings.Contains(r.URL.Path, "/send/m.room.message/"):
			json.NewDecoder(r.Body).Decode(&message)
			json.NewEncoder(w).Encode(map[string]string{"event_id": "$sent"})
			return true
		}
		return false
	}))
	if _, err := client.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}

	job := domain.UploadJob{
		Kind:      domain.AttachmentVideo,
		Filename:  "clip.mp4",
		MIMEType:  "video/mp4",
		Data:      []byte("videobytes"),
		Width:     640,
		Height:    480,
		Duration:  12 * time.Second,
		Thumbnail: []byte("jpegbytes"),
	}
	if err := client.SendAttachment(context.Background(), "!room:example.org", job); err != nil {
		t.Fatalf("SendAttachment: %v", err)
	}

	if len(uploads) != 2 {
		t.Fatalf("uploads = %d, want 2 (asset + thumbnail)", len(uploads))
	}
	if uploads[0] != "clip.mp4:videobytes" {
		t.Errorf("asset upload = %q", uploads[0])
	}
	if message["msgtype"] != "m.video" || message["url"] != "mxc://example.org/mclip.mp4" {
		t.Errorf("message = %+v", message)
	}
	info := message["info"].(map[string]any)
	if info["duration"] != float64(12000) || info["w"] != float64(640) {
		t.Errorf("info = %+v", info)
	}
	if info["thumbnail_url"] != "mxc://example.org/mthumbnail.jpg" {
		t.Errorf("thumbnail_url = %v", info["thumbnail_url"])
	}
}

func TestSendAttachmentRespectsUploadCap(t *testing.T) {
	client, _ := newTestClient(t, stdHandler(t, nil))
	if _, err := client.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}

	job := domain.UploadJob{
		Kind:     domain.AttachmentStill,
		Filename: "big.jpg",
		MIMEType: "image/jpeg",
		Data:     make([]byte, 2048), // cap from media config is 1024
	}
	err := client.SendAttachment(context.Background(), "!room:example.org", job)
	if err == nil || !strings.Contains(err.Error(), "upload limit") {
		t.Fatalf("err = %v, want upload limit error", err)
	}
}

func TestJoinRoomSurfacesMatrixError(t *testing.T) {
	client, _ := newTestClient(t, stdHandler(t, func(w http.ResponseWriter, r *http.Request) bool {
		if strings.HasSuffix(r.URL.Path, "/join") {
			w.WriteHeader(http.StatusForbidden)
			json.NewEncoder(w).Encode(errorResponse{ErrCode: "M_FORBIDDEN", Error: "not invited"})
			return true
		}
		return false
	}))
	if _, err := client.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}

	err := client.JoinRoom(context.Background(), "!room:example.org")
	if err == nil || !strings.Contains(err.Error(), "M_FORBIDDEN") {
		t.Fatalf("err = %v, want M_FORBIDDEN", err)
	}
}

func TestSetTyping(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	client, _ := newTestClient(t, stdHandler(t, func(w http.ResponseWriter, r *http.Request) bool {
		if strings.Contains(r.URL.Path, "/typing/") {
			gotPath = r.URL.Path
			json.NewDecoder(r.Body).Decode(&gotBody)
			w.Write([]byte("{}"))
			return true
		}
		return false
	}))
	if _, err := client.Resume(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := client.SetTyping(context.Background(), "!room:example.org", true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	if !strings.HasSuffix(gotPath, "/typing/@fx:example.org") {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody["typing"] != true || gotBody["timeout"] == nil {
		t.Errorf("body = %+v", gotBody)
	}
}

func TestLoginWithPassword(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/_matrix/client/v3/login" {
			t.Errorf("path = %q", r.URL.Path)
		}
		var req loginRequest
		json.NewDecoder(r.Body).Decode(&req)
		if req.Type != "m.login.password" || req.Identifier.User != "fxbot" {
			t.Errorf("request = %+v", req)
		}
		json.NewEncoder(w).Encode(loginResponse{
			UserID:      "@fxbot:example.org",
			AccessToken: "syt_new",
			DeviceID:    "DEV1",
		})
	}))
	defer server.Close()

	state, err := Login(context.Background(), nil, server.URL+"/", LoginCredentials{Username: "fxbot", Password: "hunter2"})
	if err != nil {
		t.Fatalf("Login: %v", err)
	}
	if state.UserID != "@fxbot:example.org" || state.AccessToken != "syt_new" {
		t.Errorf("state = %+v", state)
	}
	if strings.HasSuffix(state.Homeserver, "/") {
		t.Errorf("homeserver not trimmed: %q", state.Homeserver)
	}
}

func TestLoginRequiresCredentials(t *testing.T) {
	if _, err := Login(context.Background(), nil, "https://example.org", LoginCredentials{}); err == nil {
		t.Fatal("expected error without credentials")
	}
}
