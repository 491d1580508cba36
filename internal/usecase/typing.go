package usecase

import (
	"context"
	"log/slog"
	"time"

	"fxbot/internal/domain"
)

// typingTask keeps a room's typing indicator alive while a message is
// being processed. The indicator is re-asserted on a fixed interval so
// it survives the short server-side expiry, and held for a grace
// period after Stop so the published message lands while the
// indicator is still visible.
type typingTask struct {
	publisher domain.RoomPublisher
	logger    *slog.Logger
	roomID    string
	interval  time.Duration
	grace     time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

func startTyping(ctx context.Context, publisher domain.RoomPublisher, logger *slog.Logger, roomID string, interval, grace time.Duration) *typingTask {
	ctx, cancel := context.WithCancel(ctx)
	t := &typingTask{
		publisher: publisher,
		logger:    logger,
		roomID:    roomID,
		interval:  interval,
		grace:     grace,
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	go t.run(ctx)
	return t
}

func (t *typingTask) run(ctx context.Context) {
	defer close(t.done)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	t.pulse(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.pulse(ctx)
		}
	}
}

func (t *typingTask) pulse(ctx context.Context) {
	if err := t.publisher.SetTyping(ctx, t.roomID, true); err != nil {
		t.logger.Warn("typing pulse failed", "room_id", t.roomID, "error", err)
	}
}

// Stop holds the indicator through the grace period, then clears it
// and waits for the pulse loop to exit.
func (t *typingTask) Stop(ctx context.Context) {
	if t.grace > 0 {
		select {
		case <-time.After(t.grace):
		case <-ctx.Done():
		}
	}
	t.cancel()
	<-t.done
	if err := t.publisher.SetTyping(ctx, t.roomID, false); err != nil {
		t.logger.Warn("typing clear failed", "room_id", t.roomID, "error", err)
	}
}
