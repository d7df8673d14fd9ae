// Package teardown closes a session: remote cancel, channel disconnect and
// state removal.
package teardown

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
)

// DefaultCancelTimeout bounds the remote cancel call.
const DefaultCancelTimeout = 5 * time.Second

// Canceller asks the workflow service to stop a session in one market.
type Canceller interface {
	Cancel(ctx context.Context, sessionID string) error
}

// CancelFunc adapts a function to Canceller.
type CancelFunc func(ctx context.Context, sessionID string) error

// Cancel calls f.
func (f CancelFunc) Cancel(ctx context.Context, sessionID string) error {
	return f(ctx, sessionID)
}

// Channels is the part of the realtime manager teardown needs.
type Channels interface {
	Has(sessionID string) bool
	Disconnect(sessionID string)
}

// Remover drops exactly one session from the store.
type Remover interface {
	RemoveSession(sessionID string) bool
}

// Outcome describes what each teardown step did.
type Outcome struct {
	SessionID       string            `json:"session_id"`
	Market          domain.MarketType `json:"market"`
	CancelAttempted bool              `json:"cancel_attempted"`
	CancelError     string            `json:"cancel_error,omitempty"`
	Disconnected    bool              `json:"disconnected"`
	Removed         bool              `json:"removed"`
}

// Coordinator runs the teardown sequence.
type Coordinator struct {
	cancellers    map[domain.MarketType]Canceller
	channels      Channels
	store         Remover
	cancelTimeout time.Duration
	logger        *logrus.Entry
}

// NewCoordinator creates a coordinator. Markets without a canceller skip the
// remote cancel step.
func NewCoordinator(cancellers map[domain.MarketType]Canceller, channels Channels, store Remover, cancelTimeout time.Duration, logger *logrus.Entry) *Coordinator {
	if cancelTimeout <= 0 {
		cancelTimeout = DefaultCancelTimeout
	}
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Coordinator{
		cancellers:    cancellers,
		channels:      channels,
		store:         store,
		cancelTimeout: cancelTimeout,
		logger:        logger.WithField("component", "teardown"),
	}
}

// Remove tears down sessionID. status is the caller's view of the session;
// remote cancel is only attempted while it is active. Remove never fails:
// step errors and panics are logged and reported in the Outcome, and the
// session is always removed from the store.
func (c *Coordinator) Remove(ctx context.Context, sessionID string, market domain.MarketType, status domain.SessionStatus) Outcome {
	out := Outcome{SessionID: sessionID, Market: market}
	log := c.logger.WithFields(logrus.Fields{"session_id": sessionID, "market": market, "status": status})

	if status.IsActive() {
		if canceller, ok := c.cancellers[market]; ok && canceller != nil {
			out.CancelAttempted = true
			if err := c.cancel(ctx, canceller, sessionID); err != nil {
				out.CancelError = err.Error()
				log.WithError(err).Warn("remote cancel failed, continuing teardown")
			}
		}
	}

	if c.channels != nil {
		if err := guard(func() {
			if c.channels.Has(sessionID) {
				c.channels.Disconnect(sessionID)
				out.Disconnected = true
			}
		}); err != nil {
			log.WithError(err).Warn("disconnect failed, continuing teardown")
		}
	}

	if err := guard(func() { out.Removed = c.store.RemoveSession(sessionID) }); err != nil {
		log.WithError(err).Error("failed to remove session state")
	}

	log.WithFields(logrus.Fields{
		"cancel_attempted": out.CancelAttempted,
		"disconnected":     out.Disconnected,
		"removed":          out.Removed,
	}).Info("session torn down")
	return out
}

func (c *Coordinator) cancel(ctx context.Context, canceller Canceller, sessionID string) (err error) {
	ctx, cancel := context.WithTimeout(ctx, c.cancelTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cancel panicked: %v", r)
		}
	}()
	return canceller.Cancel(ctx, sessionID)
}

// guard runs fn and converts a panic into an error.
func guard(fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	fn()
	return nil
}
