// Package bootstrap builds started session clients from configuration.
package bootstrap

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/ismaiel54/ioi-session-client/internal/chaos"
	"github.com/ismaiel54/ioi-session-client/internal/config"
	"github.com/ismaiel54/ioi-session-client/internal/element"
	"github.com/ismaiel54/ioi-session-client/internal/event"
	"github.com/ismaiel54/ioi-session-client/internal/session"
	"github.com/ismaiel54/ioi-session-client/internal/transport/grpcwire"
	"github.com/ismaiel54/ioi-session-client/internal/transport/sim"
)

// SimService builds the simulated IOI service described by cfg
func SimService(cfg *config.Config, logger *zap.Logger) *sim.Service {
	return sim.NewService(sim.Config{
		RequestService:        cfg.RequestService,
		SubscriptionService:   cfg.SubscriptionService,
		AuthService:           cfg.AuthService,
		RequireAuth:           cfg.AuthRequired,
		AuthorizedUsers:       cfg.SimAuthorizedUsers,
		SlowConsumerThreshold: cfg.SimSlowConsumerThreshold,
	}, chaos.New(chaos.LoadConfig(), logger), logger)
}

// NewTransport returns the transport selected by cfg.Transport
func NewTransport(cfg *config.Config, logger *zap.Logger) (session.Transport, error) {
	switch cfg.Transport {
	case config.TransportGRPC:
		return grpcwire.NewTransport("", logger), nil
	case config.TransportSim:
		return SimService(cfg, logger).NewTransport(), nil
	default:
		return nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}

// AuthParams builds the authorization request for the configured user
func AuthParams(cfg *config.Config) *element.Element {
	return element.New(session.AuthorizationOperation).
		Set("emrsId", cfg.AuthUser).
		Set("ipAddress", cfg.AuthIP)
}

// Connect starts a session, waits for the given services to open and, when
// cfg.AuthRequired is set, authorizes the session identity. opts.Endpoint,
// opts.AuthService and opts.Logger are filled from cfg when empty.
func Connect(ctx context.Context, cfg *config.Config, transport session.Transport, services []string, opts session.Options, logger *zap.Logger) (*session.Client, error) {
	if opts.Endpoint == (event.Endpoint{}) {
		opts.Endpoint = event.Endpoint{Host: cfg.Host, Port: cfg.Port}
	}
	if opts.AuthService == "" {
		opts.AuthService = cfg.AuthService
	}
	if opts.Logger == nil {
		opts.Logger = logger
	}
	for _, name := range services {
		opts.Services = append(opts.Services, session.ServiceConfig{
			Name:         name,
			RequiresAuth: cfg.AuthRequired && name == cfg.RequestService,
		})
	}

	client := session.New(transport, opts)
	started, err := client.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	if _, err := started.Wait(ctx); err != nil {
		return nil, fmt.Errorf("failed to start session: %w", err)
	}

	for _, name := range services {
		if _, err := client.OpenService(name).Wait(ctx); err != nil {
			_ = client.Stop(context.Background())
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		logger.Info("Service opened", zap.String("service", name))
	}

	if cfg.AuthRequired {
		fut, err := client.Authorize(AuthParams(cfg))
		if err == nil {
			_, err = fut.Wait(ctx)
		}
		if err != nil {
			_ = client.Stop(context.Background())
			return nil, fmt.Errorf("failed to authorize %s: %w", cfg.AuthUser, err)
		}
		logger.Info("Identity authorized",
			zap.String("user", cfg.AuthUser),
			zap.String("seat_type", client.Identity().SeatType()),
		)
	}

	return client, nil
}
