package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/recordlock/recordlock/core/channel"
	"github.com/recordlock/recordlock/core/coordinator"
	"github.com/recordlock/recordlock/core/gateway"
	"github.com/recordlock/recordlock/core/identity"
	"github.com/recordlock/recordlock/core/infra/bus"
	"github.com/recordlock/recordlock/core/infra/config"
	"github.com/recordlock/recordlock/core/infra/logging"
	"github.com/recordlock/recordlock/core/infra/metrics"
	"github.com/recordlock/recordlock/core/infra/store"
	"github.com/recordlock/recordlock/core/permissions"
)

const component = "service"

const shutdownGrace = 10 * time.Second

// Run wires the lock coordination service and blocks until SIGINT or
// SIGTERM. Every collaborator is constructed here and passed down
// explicitly; nothing hangs off shared globals.
func Run(cfg *config.Config) error {
	if cfg.AuthzURL == "" {
		return fmt.Errorf("authorization endpoint required (authz_url or %s)", "RECORDLOCK_AUTHZ_URL")
	}
	if cfg.IdentityURL == "" {
		return fmt.Errorf("identity endpoint required (identity_url or %s)", "RECORDLOCK_IDENTITY_URL")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	lockStore, err := store.NewRedisStore(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("connect redis lock store: %w", err)
	}
	defer lockStore.Close()

	gate := permissions.NewHTTPGate(cfg.AuthzURL)
	ids := identity.NewHTTPProvider(cfg.IdentityURL)

	coord := coordinator.New(lockStore, gate, coordinator.WithMetrics(metrics.NewProm("recordlock")))

	// Stale locks reference connections from a previous process lifetime;
	// wipe them before the channel can accept its first connection.
	if _, err := coord.PurgeAll(ctx); err != nil {
		return fmt.Errorf("startup purge: %w", err)
	}

	hub := channel.NewHub(coord, ids, metrics.NewChannelProm("recordlock"))
	sinks := coordinator.MultiEvents{hub}

	if cfg.NatsURL != "" {
		tap, err := bus.NewNatsTap(cfg.NatsURL, cfg.EventsSubject)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer tap.Close()
		sinks = append(sinks, tap)
		logging.Info(component, "event tap enabled", "subject", cfg.EventsSubject)
	}
	coord.SetEvents(sinks)

	gw := gateway.New(coord, ids, ids, hub, cfg.Transports, metrics.NewGatewayProm("recordlock"))
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: gw.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info(component, "http listening", "addr", cfg.HTTPAddr, "transports", fmt.Sprintf("%v", cfg.Transports))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logging.Info(component, "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	// Stop accepting events before wiping lock state, so a late acquire
	// cannot slip in after the wipe.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(component, "http shutdown failed", "error", err)
	}
	if err := hub.Shutdown(shutdownCtx); err != nil {
		logging.Error(component, "channel shutdown failed", "error", err)
	}
	if count, err := coord.PurgeAll(shutdownCtx); err != nil {
		logging.Error(component, "shutdown purge failed", "error", err)
	} else {
		logging.Info(component, "locks wiped", "count", count)
	}
	return nil
}
