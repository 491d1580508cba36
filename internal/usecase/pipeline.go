package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/trace"

	"fxbot/internal/domain"
	"fxbot/internal/infra/tracer"
)

// Pipeline handles a single room message end to end: command
// dispatch, link extraction, post resolution, and republishing.
type Pipeline struct {
	Publisher domain.RoomPublisher
	Resolver  domain.PostResolver
	Fetcher   domain.AssetFetcher
	Logger    *slog.Logger

	GIFHost string

	StatusCommand   string
	StatusReply     string
	ShutdownCommand string

	TypingInterval time.Duration
	TypingGrace    time.Duration

	Shutdown *Flag
}

// HandleMessage processes one timeline message. self is the bot's own
// user ID for the current session; its own messages, edits, and
// non-text events are ignored. Errors on individual links are logged
// and do not fail the message.
func (p *Pipeline) HandleMessage(ctx context.Context, self string, msg domain.RoomMessage) {
	if msg.Sender == self || msg.IsEdit || msg.MsgType != "m.text" {
		return
	}

	switch strings.TrimSpace(msg.Body) {
	case p.StatusCommand:
		if err := p.Publisher.SendText(ctx, msg.RoomID, p.StatusReply); err != nil {
			p.Logger.Warn("status reply failed", "room_id", msg.RoomID, "error", err)
		}
		return
	case p.ShutdownCommand:
		p.Logger.Info("shutdown requested", "room_id", msg.RoomID, "sender", msg.Sender)
		p.Shutdown.Raise()
		return
	}

	links := ExtractLinks(msg.Body)
	if len(links) == 0 {
		return
	}

	ctx, span := tracer.StartSpan(ctx, "pipeline.HandleMessage",
		trace.WithAttributes(
			tracer.StringAttr("room_id", msg.RoomID),
			tracer.StringAttr("event_id", msg.EventID),
		))
	defer span.End()

	typing := startTyping(ctx, p.Publisher, p.Logger, msg.RoomID, p.TypingInterval, p.TypingGrace)
	defer typing.Stop(ctx)

	for _, link := range links {
		if err := p.republish(ctx, msg.RoomID, link); err != nil {
			tracer.RecordError(span, err)
			p.Logger.Warn("republish failed",
				"room_id", msg.RoomID, "link", link, "error", err)
		}
	}
}

// republish resolves one link and posts its summary plus at most one
// attachment. A post with no content is skipped silently; an
// attachment failure leaves the already-sent summary in place.
func (p *Pipeline) republish(ctx context.Context, roomID, link string) error {
	ctx, span := tracer.StartSpan(ctx, "pipeline.republish",
		trace.WithAttributes(tracer.StringAttr("link", link)))
	defer span.End()

	post, err := p.Resolver.Resolve(ctx, link)
	if err != nil {
		if errors.Is(err, domain.ErrNoContent) {
			p.Logger.Debug("no content for link", "link", link)
			return nil
		}
		return err
	}

	if err := p.Publisher.SendText(ctx, roomID, FormatSummary(post)); err != nil {
		return err
	}

	att := SelectAttachment(post, p.GIFHost)
	if att == nil {
		return nil
	}
	if err := p.sendAttachment(ctx, roomID, att); err != nil {
		p.Logger.Warn("attachment delivery failed",
			"room_id", roomID, "link", link, "kind", att.Kind, "error", err)
	}
	return nil
}

func (p *Pipeline) sendAttachment(ctx context.Context, roomID string, att *domain.Attachment) error {
	data, err := p.Fetcher.Fetch(ctx, att.URL)
	if err != nil {
		return err
	}

	job := domain.UploadJob{
		Kind:     att.Kind,
		Filename: att.Filename,
		MIMEType: att.MIMEType,
		Data:     data,
		Width:    att.Width,
		Height:   att.Height,
		Duration: att.Duration,
	}
	// A broken thumbnail drops the whole attachment; the summary text
	// already sent stands on its own.
	if att.ThumbnailURL != "" {
		thumb, err := p.Fetcher.Fetch(ctx, att.ThumbnailURL)
		if err != nil {
			return fmt.Errorf("fetch thumbnail %s: %w", att.ThumbnailURL, err)
		}
		job.Thumbnail = thumb
	}

	return p.Publisher.SendAttachment(ctx, roomID, job)
}
