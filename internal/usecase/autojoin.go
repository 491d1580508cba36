package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fxbot/internal/domain"
)

const (
	autojoinInitialDelay = 2 * time.Second
	autojoinMaxDelay     = 3600 * time.Second
)

// AutojoinRetrier accepts room invites with exponential backoff. A
// freshly invited room often rejects the join for a short window
// while federation catches up, so failures are retried with a
// doubling delay until the delay would exceed an hour, at which point
// the invite is abandoned.
type AutojoinRetrier struct {
	Publisher domain.RoomPublisher
	Logger    *slog.Logger

	// Rooms restricts autojoin to invites whose room name appears in
	// the list. Empty means accept every invite.
	Rooms []string

	// Sleep is swappable for tests. Defaults to a context-aware wait.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Accept joins the invited room, retrying with backoff. It returns
// domain.ErrAutojoinAbandoned once the backoff ceiling is reached and
// the context error if cancelled mid-wait.
func (a *AutojoinRetrier) Accept(ctx context.Context, invite domain.RoomInvite) error {
	if !a.allowed(invite) {
		a.Logger.Info("ignoring invite to unlisted room",
			"room_id", invite.RoomID, "room_name", invite.RoomName, "sender", invite.Sender)
		return nil
	}

	sleep := a.Sleep
	if sleep == nil {
		sleep = waitFor
	}

	delay := autojoinInitialDelay
	for {
		err := a.Publisher.JoinRoom(ctx, invite.RoomID)
		if err == nil {
			a.Logger.Info("joined room", "room_id", invite.RoomID, "sender", invite.Sender)
			return nil
		}

		a.Logger.Warn("join failed, backing off",
			"room_id", invite.RoomID, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return err
		}
		delay *= 2
		if delay > autojoinMaxDelay {
			a.Logger.Error("abandoning invite after repeated join failures",
				"room_id", invite.RoomID, "sender", invite.Sender)
			return fmt.Errorf("join %s: %w", invite.RoomID, domain.ErrAutojoinAbandoned)
		}
	}
}

func (a *AutojoinRetrier) allowed(invite domain.RoomInvite) bool {
	if len(a.Rooms) == 0 {
		return true
	}
	for _, name := range a.Rooms {
		if name == invite.RoomName {
			return true
		}
	}
	return false
}

func waitFor(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
