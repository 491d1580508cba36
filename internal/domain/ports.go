package domain

import "context"

// RoomPublisher posts content into a room. SendText and SendAttachment
// surface errors to the caller; SetTyping is best-effort and callers are
// expected to ignore its failures.
type RoomPublisher interface {
	SendText(ctx context.Context, roomID, text string) error
	SendAttachment(ctx context.Context, roomID string, job UploadJob) error
	SetTyping(ctx context.Context, roomID string, typing bool) error
	JoinRoom(ctx context.Context, roomID string) error
}

// PostResolver resolves one candidate link into a normalized post.
// A post without resolvable content yields ErrNoContent.
type PostResolver interface {
	Resolve(ctx context.Context, link string) (*ResolvedPost, error)
}

// AssetFetcher downloads a media asset fully into memory. A non-2xx
// response is an error; there are no retries at this layer.
type AssetFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// SessionStore persists the session state between runs.
type SessionStore interface {
	Save(ctx context.Context, state SessionState) error
	Load(ctx context.Context) (SessionState, error)
}

// SessionRunner owns the long-lived sync session. Resume validates the
// stored credentials and prepares the runner for syncing; SyncOnce
// performs the initial full sync and returns the resumption cursor; Sync
// performs one long-poll iteration from the given cursor.
type SessionRunner interface {
	Resume(ctx context.Context) (userID string, err error)
	SyncOnce(ctx context.Context) (cursor string, err error)
	Sync(ctx context.Context, cursor string) (*SyncUpdate, error)
}
