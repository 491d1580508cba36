package usecase

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"fxbot/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type sentText struct {
	roomID string
	body   string
}

type sentAttachment struct {
	roomID string
	job    domain.UploadJob
}

type typingCall struct {
	roomID string
	typing bool
}

// fakePublisher records every outbound call and lets tests inject
// per-method failures.
type fakePublisher struct {
	mu          sync.Mutex
	texts       []sentText
	attachments []sentAttachment
	typing      []typingCall
	joins       []string

	sendTextErr       error
	sendAttachmentErr error
	joinErr           func(attempt int) error
	joinAttempts      int
}

func (f *fakePublisher) SendText(ctx context.Context, roomID, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendTextErr != nil {
		return f.sendTextErr
	}
	f.texts = append(f.texts, sentText{roomID: roomID, body: body})
	return nil
}

func (f *fakePublisher) SendAttachment(ctx context.Context, roomID string, job domain.UploadJob) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendAttachmentErr != nil {
		return f.sendAttachmentErr
	}
	f.attachments = append(f.attachments, sentAttachment{roomID: roomID, job: job})
	return nil
}

func (f *fakePublisher) SetTyping(ctx context.Context, roomID string, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, typingCall{roomID: roomID, typing: typing})
	return nil
}

func (f *fakePublisher) JoinRoom(ctx context.Context, roomID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinAttempts++
	if f.joinErr != nil {
		if err := f.joinErr(f.joinAttempts); err != nil {
			return err
		}
	}
	f.joins = append(f.joins, roomID)
	return nil
}

func (f *fakePublisher) sentTexts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText(nil), f.texts...)
}

func (f *fakePublisher) sentAttachments() []sentAttachment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentAttachment(nil), f.attachments...)
}

func (f *fakePublisher) typingCalls() []typingCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]typingCall(nil), f.typing...)
}

func (f *fakePublisher) joinedRooms() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.joins...)
}

// fakeResolver maps candidate links to canned posts or errors.
type fakeResolver struct {
	mu    sync.Mutex
	posts map[string]*domain.ResolvedPost
	errs  map[string]error
	calls []string
}

func (f *fakeResolver) Resolve(ctx context.Context, link string) (*domain.ResolvedPost, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, link)
	if err, ok := f.errs[link]; ok {
		return nil, err
	}
	if post, ok := f.posts[link]; ok {
		return post, nil
	}
	return nil, domain.ErrNoContent
}

// fakeFetcher serves canned bodies by URL.
type fakeFetcher struct {
	bodies map[string][]byte
	errs   map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	if body, ok := f.bodies[rawURL]; ok {
		return body, nil
	}
	return nil, domain.ErrBadStatus
}
