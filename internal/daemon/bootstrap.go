package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/matheus3301/tlk/internal/backend"
	"github.com/matheus3301/tlk/internal/chat"
	"github.com/matheus3301/tlk/internal/status"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProfileSource fetches the signed-in user.
type ProfileSource interface {
	Me(ctx context.Context) (chat.Profile, error)
}

// Loader fills the conversation list.
type Loader interface {
	Load(ctx context.Context) error
}

// Subscriber starts the push subscription for a user.
type Subscriber interface {
	Start(ctx context.Context, userID string)
}

// Bootstrap brings a session online: the profile and the conversation list
// are fetched in parallel, the profile is handed to every component that
// needs it, and then the push subscription starts.
type Bootstrap struct {
	Profile    ProfileSource
	Inbox      Loader
	SetSelf    []func(chat.Profile)
	Realtime   Subscriber
	State      *status.Machine
	Logger     *zap.Logger
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

// Run retries with backoff until the session is up, ctx is done, or the
// backend rejects the credentials.
func (b *Bootstrap) Run(ctx context.Context) error {
	logger := b.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	backoff := b.MinBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	maxBackoff := b.MaxBackoff
	if maxBackoff < backoff {
		maxBackoff = 30 * time.Second
	}

	for {
		me, err := b.once(ctx)
		if err == nil {
			for _, set := range b.SetSelf {
				set(me)
			}
			logger.Info("session ready", zap.String("profile", me.ID))
			b.Realtime.Start(ctx, me.ID)
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if backend.IsStatus(err, http.StatusUnauthorized) || errors.Is(err, backend.ErrNoBaseURL) {
			b.ensure(status.Error)
			logger.Error("bootstrap failed", zap.Error(err))
			return err
		}

		b.ensure(status.Offline)
		logger.Warn("bootstrap failed, retrying", zap.Error(err), zap.Duration("retry_in", backoff))
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff = min(backoff*2, maxBackoff)
	}
}

func (b *Bootstrap) once(ctx context.Context) (chat.Profile, error) {
	var me chat.Profile
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := b.Profile.Me(gctx)
		if err != nil {
			return fmt.Errorf("fetch profile: %w", err)
		}
		me = p
		return nil
	})
	g.Go(func() error {
		if err := b.Inbox.Load(gctx); err != nil {
			return fmt.Errorf("load conversations: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return chat.Profile{}, err
	}
	return me, nil
}

func (b *Bootstrap) ensure(to status.State) {
	if b.State == nil {
		return
	}
	_ = b.State.Ensure(to)
}
