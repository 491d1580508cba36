package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"fxbot/internal/domain"
)

// Flag is a one-way latch shared between the pipeline, the signal
// handler, and the supervisor loop. Once raised it stays raised.
type Flag struct {
	v atomic.Bool
}

func (f *Flag) Raise()       { f.v.Store(true) }
func (f *Flag) Raised() bool { return f.v.Load() }

// Supervisor owns the session lifecycle: it resumes the saved
// session, drains the backlog, then streams sync updates into the
// pipeline. Any session error tears the session down and a fresh one
// is started after RestartDelay, until shutdown is requested.
type Supervisor struct {
	Runner   domain.SessionRunner
	Pipeline *Pipeline
	Autojoin *AutojoinRetrier
	Logger   *slog.Logger

	RestartDelay time.Duration
	Shutdown     *Flag
}

// Run loops sessions until shutdown or context cancellation. It
// returns nil on an orderly stop and the context error otherwise.
func (s *Supervisor) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	defer wg.Wait()

	// Autojoin retries can be mid-backoff when shutdown is requested
	// in-band; cancelling before wg.Wait aborts those sleeps so a !die
	// never lingers behind a pending join.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for {
		err := s.runSession(ctx, &wg)
		if s.Shutdown.Raised() {
			s.Logger.Info("shutting down")
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// No stored session means no restart will ever succeed.
		if errors.Is(err, domain.ErrNoSession) {
			return err
		}
		s.Logger.Error("session ended, restarting",
			"error", err, "delay", s.RestartDelay)
		if err := waitFor(ctx, s.RestartDelay); err != nil {
			return err
		}
	}
}

func (s *Supervisor) runSession(ctx context.Context, wg *sync.WaitGroup) error {
	userID, err := s.Runner.Resume(ctx)
	if err != nil {
		return err
	}
	s.Logger.Info("session resumed", "user_id", userID)

	// Skip everything that accumulated while offline; replaying a
	// backlog of stale links would spam every joined room.
	cursor, err := s.Runner.SyncOnce(ctx)
	if err != nil {
		return err
	}

	for {
		if s.Shutdown.Raised() {
			return nil
		}

		update, err := s.Runner.Sync(ctx, cursor)
		if err != nil {
			return err
		}
		cursor = update.NextBatch

		for _, invite := range update.Invites {
			if s.Autojoin == nil {
				continue
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Autojoin.Accept(ctx, invite); err != nil {
					s.Logger.Warn("autojoin gave up",
						"room_id", invite.RoomID, "error", err)
				}
			}()
		}

		for _, msg := range update.Messages {
			s.Pipeline.HandleMessage(ctx, userID, msg)
			if s.Shutdown.Raised() {
				return nil
			}
		}
	}
}
