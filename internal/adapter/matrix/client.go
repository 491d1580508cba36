package matrix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"fxbot/internal/domain"
)

const maxErrorBody = 1 * 1024 * 1024

// Config holds the dependencies for a Client.
type Config struct {
	// Store supplies the durable session state on Resume.
	Store domain.SessionStore
	// HTTPClient is the shared process-wide client. If nil,
	// http.DefaultClient is used.
	HTTPClient *http.Client
	// Logger is used for structured logging. If nil, slog.Default().
	Logger *slog.Logger
	// SyncTimeout is the long-poll window for incremental sync.
	SyncTimeout time.Duration
}

// Client talks the Matrix client-server API over long-poll sync. One
// Client is constructed at startup and re-resumed across session
// restarts; Resume reloads credentials from the store each time.
//
// Client implements domain.SessionRunner and domain.RoomPublisher. It is
// not safe for concurrent Resume calls, but the publisher methods may be
// called from any goroutine once Resume has returned.
type Client struct {
	store       domain.SessionStore
	httpClient  *http.Client
	logger      *slog.Logger
	syncTimeout time.Duration

	baseURL     string
	accessToken string
	userID      string
	maxUpload   int64
}

// NewClient creates a Client. Resume must be called before any other
// method.
func NewClient(cfg Config) (*Client, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("matrix: Store is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	syncTimeout := cfg.SyncTimeout
	if syncTimeout <= 0 {
		syncTimeout = 30 * time.Second
	}
	return &Client{
		store:       cfg.Store,
		httpClient:  httpClient,
		logger:      logger,
		syncTimeout: syncTimeout,
	}, nil
}

// UserID returns the account this client authenticated as. Empty before
// Resume.
func (c *Client) UserID() string { return c.userID }

// Resume loads the stored session state and validates it against the
// homeserver via whoami. It also refreshes the advertised media upload
// cap; that lookup is best-effort.
func (c *Client) Resume(ctx context.Context) (string, error) {
	state, err := c.store.Load(ctx)
	if err != nil {
		return "", fmt.Errorf("load session state: %w", err)
	}
	if state.AccessToken == "" || state.Homeserver == "" {
		return "", domain.ErrNoSession
	}

	c.baseURL = strings.TrimRight(state.Homeserver, "/")
	c.accessToken = state.AccessToken

	var whoami whoamiResponse
	if err := c.do(ctx, http.MethodGet, "/_matrix/client/v3/account/whoami", nil, &whoami); err != nil {
		return "", fmt.Errorf("whoami: %w", err)
	}
	if state.UserID != "" && whoami.UserID != state.UserID {
		return "", fmt.Errorf("session user mismatch: stored %s, server reports %s", state.UserID, whoami.UserID)
	}
	c.userID = whoami.UserID

	var media mediaConfigResponse
	if err := c.do(ctx, http.MethodGet, "/_matrix/client/v1/media/config", nil, &media); err != nil {
		c.logger.Warn("media config lookup failed", "error", err)
		c.maxUpload = 0
	} else {
		c.maxUpload = media.UploadSize
		c.logger.Info("session resumed", "user_id", c.userID, "max_upload_size", c.maxUpload)
	}

	return c.userID, nil
}

// SyncOnce performs the initial full sync and returns the resumption
// cursor. The response body itself is discarded: backlog from before
// startup is deliberately not processed.
func (c *Client) SyncOnce(ctx context.Context) (string, error) {
	var resp syncResponse
	if err := c.do(ctx, http.MethodGet, "/_matrix/client/v3/sync?timeout=0", nil, &resp); err != nil {
		return "", fmt.Errorf("initial sync: %w", err)
	}
	return resp.NextBatch, nil
}

// Sync performs one long-poll sync iteration from cursor.
func (c *Client) Sync(ctx context.Context, cursor string) (*domain.SyncUpdate, error) {
	path := fmt.Sprintf("/_matrix/client/v3/sync?timeout=%d&since=%s",
		c.syncTimeout.Milliseconds(), url.QueryEscape(cursor))

	var resp syncResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, fmt.Errorf("sync: %w", err)
	}

	update := &domain.SyncUpdate{NextBatch: resp.NextBatch}

	for roomID, room := range resp.Rooms.Join {
		for _, ev := range room.Timeline.Events {
			if ev.Type != "m.room.message" {
				continue
			}
			var content messageContent
			if err := json.Unmarshal(ev.Content, &content); err != nil {
				continue
			}
			update.Messages = append(update.Messages, domain.RoomMessage{
				RoomID:  roomID,
				EventID: ev.EventID,
				Sender:  ev.Sender,
				MsgType: content.MsgType,
				Body:    content.Body,
				IsEdit:  content.RelatesTo != nil && content.RelatesTo.RelType == "m.replace",
			})
		}
	}

	for roomID, room := range resp.Rooms.Invite {
		invite, ok := c.parseInvite(roomID, room)
		if ok {
			update.Invites = append(update.Invites, invite)
		}
	}

	return update, nil
}

// parseInvite extracts an invite addressed to this account from the
// stripped invite state. Invites for other users (which a sync should
// not contain, but servers vary) are dropped.
func (c *Client) parseInvite(roomID string, room invitedRoom) (domain.RoomInvite, bool) {
	invite := domain.RoomInvite{RoomID: roomID}
	addressed := false
	for _, ev := range room.InviteState.Events {
		switch ev.Type {
		case "m.room.member":
			if ev.StateKey == nil || *ev.StateKey != c.userID {
				continue
			}
			var content memberContent
			if err := json.Unmarshal(ev.Content, &content); err != nil {
				continue
			}
			if content.Membership == "invite" {
				addressed = true
				invite.Sender = ev.Sender
			}
		case "m.room.name":
			var content roomNameContent
			if err := json.Unmarshal(ev.Content, &content); err == nil {
				invite.RoomName = content.Name
			}
		}
	}
	return invite, addressed
}

// SendText posts a plain-text message to a room.
func (c *Client) SendText(ctx context.Context, roomID, text string) error {
	content := map[string]any{
		"msgtype": "m.text",
		"body":    text,
	}
	return c.sendEvent(ctx, roomID, content)
}

// SendAttachment uploads the job's payload (and thumbnail, if any) to
// the media repository and posts the referencing message. The payload is
// fully buffered in the job; nothing is streamed or retried.
func (c *Client) SendAttachment(ctx context.Context, roomID string, job domain.UploadJob) error {
	if c.maxUpload > 0 && int64(len(job.Data)) > c.maxUpload {
		return fmt.Errorf("%s is %d bytes, server cap %d: %w", job.Filename, len(job.Data), c.maxUpload, domain.ErrTooLarge)
	}

	mxc, err := c.uploadMedia(ctx, job.Filename, job.MIMEType, job.Data)
	if err != nil {
		return fmt.Errorf("upload %s: %w", job.Filename, err)
	}

	info := map[string]any{
		"mimetype": job.MIMEType,
		"size":     len(job.Data),
	}
	if job.Width > 0 {
		info["w"] = job.Width
	}
	if job.Height > 0 {
		info["h"] = job.Height
	}
	if job.Kind == domain.AttachmentVideo && job.Duration > 0 {
		info["duration"] = job.Duration.Milliseconds()
	}

	if len(job.Thumbnail) > 0 {
		thumbMxc, err := c.uploadMedia(ctx, "thumbnail.jpg", "image/jpeg", job.Thumbnail)
		if err != nil {
			return fmt.Errorf("upload thumbnail for %s: %w", job.Filename, err)
		}
		info["thumbnail_url"] = thumbMxc
		info["thumbnail_info"] = map[string]any{
			"mimetype": "image/jpeg",
			"size":     len(job.Thumbnail),
		}
	}

	msgtype := "m.image"
	if job.Kind == domain.AttachmentVideo {
		msgtype = "m.video"
	}

	content := map[string]any{
		"msgtype": msgtype,
		"body":    job.Filename,
		"url":     mxc,
		"info":    info,
	}
	return c.sendEvent(ctx, roomID, content)
}

// SetTyping asserts or clears the typing indicator in a room.
func (c *Client) SetTyping(ctx context.Context, roomID string, typing bool) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/typing/%s",
		url.PathEscape(roomID), url.PathEscape(c.userID))
	body := map[string]any{"typing": typing}
	if typing {
		body["timeout"] = 4000
	}
	return c.do(ctx, http.MethodPut, path, body, nil)
}

// JoinRoom joins a room by ID.
func (c *Client) JoinRoom(ctx context.Context, roomID string) error {
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/join", url.PathEscape(roomID))
	return c.do(ctx, http.MethodPost, path, map[string]any{}, nil)
}

func (c *Client) sendEvent(ctx context.Context, roomID string, content map[string]any) error {
	// ULID transaction IDs keep sends idempotent across the retries the
	// transport may perform.
	path := fmt.Sprintf("/_matrix/client/v3/rooms/%s/send/m.room.message/%s",
		url.PathEscape(roomID), ulid.Make().String())
	return c.do(ctx, http.MethodPut, path, content, nil)
}

func (c *Client) uploadMedia(ctx context.Context, filename, mimeType string, data []byte) (string, error) {
	path := "/_matrix/media/v3/upload?filename=" + url.QueryEscape(filename)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", apiError(resp.StatusCode, body)
	}

	var upload uploadResponse
	if err := json.Unmarshal(body, &upload); err != nil {
		return "", fmt.Errorf("unmarshal upload response: %w", err)
	}
	return upload.ContentURI, nil
}

// do performs a JSON request against the client-server API. A nil out
// discards the response body after the status check.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+c.accessToken)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return apiError(resp.StatusCode, body)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func apiError(status int, body []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.ErrCode != "" {
		return fmt.Errorf("matrix error %d %s: %s", status, apiErr.ErrCode, apiErr.Error)
	}
	return fmt.Errorf("matrix error %d: %s", status, string(body))
}

// LoginCredentials selects the login flow: password when Username and
// Password are set, token login when Token is set.
type LoginCredentials struct {
	Username string
	Password string
	Token    string
}

// Login authenticates against homeserver and returns the session state
// to persist. It does not touch any store.
func Login(ctx context.Context, httpClient *http.Client, homeserver string, creds LoginCredentials) (domain.SessionState, error) {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	var reqBody loginRequest
	reqBody.InitialDeviceDisplayName = "fxbot"
	switch {
	case creds.Username != "" && creds.Password != "":
		reqBody.Type = "m.login.password"
		reqBody.Identifier = &loginIdentifier{Type: "m.id.user", User: creds.Username}
		reqBody.Password = creds.Password
	case creds.Token != "":
		reqBody.Type = "m.login.token"
		reqBody.Token = creds.Token
	default:
		return domain.SessionState{}, fmt.Errorf("missing username/password or login token")
	}

	data, err := json.Marshal(reqBody)
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("marshal login request: %w", err)
	}

	loginURL := strings.TrimRight(homeserver, "/") + "/_matrix/client/v3/login"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, loginURL, bytes.NewReader(data))
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err != nil {
		return domain.SessionState{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.SessionState{}, apiError(resp.StatusCode, body)
	}

	var login loginResponse
	if err := json.Unmarshal(body, &login); err != nil {
		return domain.SessionState{}, fmt.Errorf("unmarshal login response: %w", err)
	}

	return domain.SessionState{
		Homeserver:  strings.TrimRight(homeserver, "/"),
		UserID:      login.UserID,
		DeviceID:    login.DeviceID,
		AccessToken: login.AccessToken,
	}, nil
}
