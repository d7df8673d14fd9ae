package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/adapter/workflow"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/approval"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/config"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/domain"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/history"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/hub"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/logging"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/policy"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/realtime"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/repository"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/service"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/session"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/teardown"
	transporthttp "github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/transport/http"
	"github.com/KIMSUNGHOON/JonberAITrading-sub002/internal/transport/ws"
)

const shutdownTimeout = 10 * time.Second

func runServe(ctx context.Context, opts *options) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, logger)
}

// serve wires every component and runs until ctx is done.
func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	entry := logrus.NewEntry(logger)
	log := logging.Component(logger, "dashboard")
	log.WithFields(logrus.Fields{
		"http_port":    cfg.HTTPPort,
		"workflow_url": cfg.WorkflowURL,
		"stream_url":   cfg.StreamURL,
		"ceiling":      cfg.Ceiling,
	}).Info("starting dashboard core")

	// History
	ledgerOpts := []history.Option{history.WithLogger(entry)}
	if cfg.HistoryDSN != "" {
		db, err := repository.NewSQLiteStore(cfg.HistoryDSN)
		if err != nil {
			return err
		}
		defer db.Close()
		ledgerOpts = append(ledgerOpts, history.WithPersister(db))
	}
	ledger := history.NewLedger(cfg.HistoryCap, ledgerOpts...)
	defer ledger.Close()
	if err := ledger.Load(ctx); err != nil {
		return fmt.Errorf("failed to load history: %w", err)
	}

	// Sessions
	store := session.NewStore(
		session.Config{Ceiling: cfg.Ceiling, RejectPolicy: cfg.RejectPolicy},
		session.WithRecorder(ledger),
		session.WithLogger(entry),
	)

	// Workflow service
	client := workflow.NewClient(cfg.WorkflowURL, cfg.RequestTimeout)

	clientCfg := realtime.DefaultClientConfig()
	clientCfg.PingInterval = cfg.PingInterval
	clientCfg.PingTimeout = cfg.PingTimeout

	var svc *service.Service
	manager := realtime.NewManager(
		realtime.ManagerConfig{
			ConnectTimeout:    cfg.RequestTimeout,
			ReconnectBaseWait: cfg.ReconnectBaseWait,
			ReconnectMaxWait:  cfg.ReconnectMaxWait,
		},
		realtime.NewClientFactory(cfg.StreamURL, clientCfg, entry),
		store,
		realtime.WithResync(func(ctx context.Context, sessionID string, market domain.MarketType) bool {
			return svc.Resync(ctx, sessionID, market)
		}),
		realtime.WithConnectivity(func(sessionID string, connected bool) {
			log.WithFields(logrus.Fields{"session_id": sessionID, "connected": connected}).Info("push channel state changed")
		}),
		realtime.WithLogger(entry),
	)

	gate := approval.NewGate(store, client, cfg.DecisionTimeout, entry)
	coordinator := teardown.NewCoordinator(client.Cancellers(), manager, store, cfg.CancelTimeout, entry)

	policyEngine, err := policy.NewEngine(ctx, policy.DefaultPolicy)
	if err != nil {
		return fmt.Errorf("failed to initialize policy engine: %w", err)
	}

	svc = service.New(store, ledger, gate, coordinator, manager, client, policyEngine, entry)

	// Transport
	streamHub := hub.NewHub(entry)
	stream := ws.NewServer(ws.DefaultConfig(), streamHub, store, entry)
	stopWatch := stream.Watch()
	defer stopWatch()
	server := transporthttp.NewServer(svc, stream)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		streamHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return svc.RunReconciler(gctx, cfg.ReconcileInterval)
	})
	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		log.WithField("addr", addr).Info("HTTP server listening")
		if err := server.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down dashboard core")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Warn("failed to shutdown HTTP server gracefully")
		}
		if err := manager.Stop(shutdownCtx); err != nil {
			log.WithError(err).Warn("push channels still closing")
		}
		return nil
	})

	err = g.Wait()
	log.Info("dashboard core stopped")
	return err
}
