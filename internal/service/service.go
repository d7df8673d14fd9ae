// Package service wires the session store to its collaborators and exposes
// the operations used by the transport layer.
package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/approval"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/history"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/policy"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/realtime"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/session"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/teardown"
)

// Channels is the part of realtime.Manager the service drives.
type Channels interface {
	Connect(ctx context.Context, sessionID string, market domain.MarketType) error
	Disconnect(sessionID string)
	Has(sessionID string) bool
	Connected(sessionID string) bool
	Connectivity() realtime.Connectivity
}

// StatusFetcher polls the workflow service for a session's state.
type StatusFetcher interface {
	GetStatus(ctx context.Context, market domain.MarketType, sessionID string) (*domain.RemoteStatus, error)
}

type Service struct {
	store        *session.Store
	ledger       *history.Ledger
	gate         *approval.Gate
	teardown     *teardown.Coordinator
	channels     Channels
	status       StatusFetcher
	policyEngine *policy.Engine
	logger       *logrus.Entry
}

func New(store *session.Store, ledger *history.Ledger, gate *approval.Gate, coordinator *teardown.Coordinator, channels Channels, status StatusFetcher, policyEngine *policy.Engine, logger *logrus.Entry) *Service {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Service{
		store:        store,
		ledger:       ledger,
		gate:         gate,
		teardown:     coordinator,
		channels:     channels,
		status:       status,
		policyEngine: policyEngine,
		logger:       logger.WithField("component", "service"),
	}
}

// Store returns the underlying session store.
func (s *Service) Store() *session.Store {
	return s.store
}
