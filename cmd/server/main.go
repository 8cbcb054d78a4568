package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/authserve/go-oauth2-server/authz"
	"github.com/authserve/go-oauth2-server/authz/memstore"
	"github.com/authserve/go-oauth2-server/authz/valkeystore"
	"github.com/authserve/go-oauth2-server/clients"
	"github.com/authserve/go-oauth2-server/clients/memrepo"
	"github.com/authserve/go-oauth2-server/grant"
	"github.com/authserve/go-oauth2-server/instrumentation"
	"github.com/authserve/go-oauth2-server/internal/config"
	"github.com/authserve/go-oauth2-server/principal"
	"github.com/authserve/go-oauth2-server/principal/memdir"
	"github.com/authserve/go-oauth2-server/server"
	"github.com/authserve/go-oauth2-server/token"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	for {
		if err := run(logger); err != nil {
			logger.Fatal().Err(err).Msg("error running server")
			time.Sleep(1 * time.Second)
		} else {
			break
		}
	}
	logger.Info().Msg("server stopped")
}

func run(logger zerolog.Logger) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Any("panic", r).Msg("recovered from panic")
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	displayAppname(c.GetAppName())

	keyring, err := buildKeyring(c)
	if err != nil {
		return fmt.Errorf("buildKeyring: %w", err)
	}
	issuer := token.NewIssuer(keyring, c.GetIssuer(), token.WithLeeway(c.GetClockSkewLeeway()))

	store, err := buildStore(c)
	if err != nil {
		return fmt.Errorf("buildStore: %w", err)
	}

	meterProvider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(meterProvider)
	metrics, err := instrumentation.NewMetrics(meterProvider.Meter("authserver"))
	if err != nil {
		return fmt.Errorf("instrumentation.NewMetrics: %w", err)
	}

	directory := memdir.New()
	registry := clients.NewRegistry(memrepo.New())
	authenticator := principal.NewLocalAuthenticator(directory)

	grants := grant.NewService(registry, store, issuer, authenticator, directory,
		grant.WithLogger(logger),
		grant.WithMetrics(metrics),
		grant.WithCodeTTL(c.GetAuthCodeTimeout()),
		grant.WithAccessTokenTTL(c.GetDefaultAccessTokenExpiry()),
		grant.WithIDTokenTTL(c.GetDefaultIDTokenExpiry()),
		grant.WithRefreshTokenTTL(c.GetDefaultRefreshTokenExpiry()),
		grant.WithStoreTimeout(c.GetStoreTimeout()),
		grant.WithRefreshRotation(c.GetRefreshRotation()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if c.GetEnv() == "DEV" {
		if err := bootstrapDev(ctx, logger, registry, directory); err != nil {
			return fmt.Errorf("bootstrapDev: %w", err)
		}
	}
	go pruneLoop(ctx, logger, store, keyring)

	handler := server.New(c, grants, registry, keyring,
		server.WithLogger(logger),
		server.WithMetrics(metrics),
	)
	httpServer := &http.Server{Addr: c.GetPort(), Handler: handler}
	go listenAndServe(logger, httpServer)
	waitForStopSignal()
	cancel()
	returnError = shutdown(httpServer, meterProvider)
	return returnError
}

// buildKeyring loads the signing key from SIGNING_KEY_PEM, or generates
// an ephemeral RSA key when none is configured. Ephemeral keys mean
// every restart invalidates outstanding tokens, which is fine for
// development and wrong for production.
func buildKeyring(c config.Config) (*token.Keyring, error) {
	grace := c.GetKeyRotationGrace()
	if pemData := config.GetEnv("SIGNING_KEY_PEM", ""); pemData != "" {
		keyPair, err := token.LoadKeyPairFromPEM(config.GetEnv("SIGNING_KEY_ID", "primary"), pemData)
		if err != nil {
			return nil, fmt.Errorf("token.LoadKeyPairFromPEM: %w", err)
		}
		return token.NewKeyring(keyPair, grace), nil
	}
	keyPair, err := token.GenerateRSAKeyPair(uuid.NewString(), 2048)
	if err != nil {
		return nil, fmt.Errorf("token.GenerateRSAKeyPair: %w", err)
	}
	return token.NewKeyring(keyPair, grace), nil
}

func buildStore(c config.Config) (authz.Store, error) {
	switch c.GetStoreBackend() {
	case "valkey":
		return valkeystore.New(valkeystore.Config{
			Address:   c.GetValkeyAddress(),
			Password:  c.GetValkeyPassword(),
			DB:        c.GetValkeyDB(),
			KeyPrefix: c.GetValkeyKeyPrefix(),
		})
	default:
		return memstore.New(), nil
	}
}

// bootstrapDev seeds a client and a user so the flows can be exercised
// out of the box. The generated secret is logged once.
func bootstrapDev(ctx context.Context, logger zerolog.Logger, registry *clients.Registry, directory principal.Directory) error {
	client, secret, err := registry.Register(ctx, clients.Registration{
		Name:         "Dev Console",
		Type:         clients.ClientTypeConfidential,
		RedirectURIs: []string{"http://localhost:3000/callback"},
		GrantTypes:   []string{"authorization_code", "refresh_token", "client_credentials"},
		Scopes:       []string{"openid", "profile", "email"},
	})
	if err != nil {
		return err
	}

	passwordHash, err := principal.HashPassword("Password123!")
	if err != nil {
		return err
	}
	if err := directory.Upsert(ctx, &principal.Principal{
		Subject:       uuid.NewString(),
		Username:      "dev",
		Email:         "dev@localhost",
		EmailVerified: true,
		Name:          "Dev User",
		PasswordHash:  passwordHash,
	}); err != nil {
		return err
	}

	logger.Info().
		Str("client_id", client.ID).
		Str("client_secret", secret).
		Str("username", "dev").
		Msg("development credentials")
	return nil
}

// pruneLoop sweeps expired grants and retired signing keys.
func pruneLoop(ctx context.Context, logger zerolog.Logger, store authz.Store, keyring *token.Keyring) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := store.PruneExpired(ctx)
			if err != nil {
				logger.Error().Err(err).Msg("grant prune failed")
			} else if pruned > 0 {
				logger.Debug().Int("pruned", pruned).Msg("expired grants pruned")
			}
			if removed := keyring.PruneExpired(); removed > 0 {
				logger.Debug().Int("removed", removed).Msg("retired keys pruned")
			}
		}
	}
}

func listenAndServe(logger zerolog.Logger, srv *http.Server) {
	logger.Info().Str("addr", srv.Addr).Msg("server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("server.ListenAndServe")
	}
}

func waitForStopSignal() {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
}

func shutdown(srv *http.Server, meterProvider *sdkmetric.MeterProvider) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	if err := meterProvider.Shutdown(ctx); err != nil {
		return fmt.Errorf("meterProvider.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
