// Copyright 2026 The Portalcore Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/portalcore/portalcore/internal/audit"
	"github.com/portalcore/portalcore/internal/authz"
	"github.com/portalcore/portalcore/internal/billing"
	"github.com/portalcore/portalcore/internal/config"
	"github.com/portalcore/portalcore/internal/identity"
	"github.com/portalcore/portalcore/internal/impersonation"
	"github.com/portalcore/portalcore/internal/observability/logger"
	"github.com/portalcore/portalcore/internal/observability/metrics"
	"github.com/portalcore/portalcore/internal/observability/tracing"
	"github.com/portalcore/portalcore/internal/tenant"
	transportHTTP "github.com/portalcore/portalcore/internal/transport/http"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the portal API server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		migrate, _ := cmd.Flags().GetBool("migrate")
		return serve(cmd.Context(), cfg, migrate)
	},
}

func init() {
	serveCmd.Flags().Bool("migrate", false, "apply database migrations before serving")
}

func serve(ctx context.Context, cfg *config.Config, migrate bool) error {
	slog.InfoContext(ctx, "starting portalcore",
		slog.String("version", cfg.Observability.ServiceVersion),
		slog.String("store", cfg.Store.Driver),
	)

	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.TraceSampleRate,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	defer shutdownWith("tracer", tp.Shutdown)

	meter, err := metrics.New(ctx, metrics.Config{
		Enabled:     cfg.Observability.MetricsEnabled,
		ServiceName: cfg.Observability.ServiceName,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}
	defer shutdownWith("meter", meter.Shutdown)

	instruments, err := metrics.NewInstruments(meter)
	if err != nil {
		return fmt.Errorf("failed to create instruments: %w", err)
	}

	if migrate {
		if err := runMigrations(ctx, cfg); err != nil {
			return err
		}
	}

	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open store: %w", err)
	}
	defer closeStore()

	sessionStore, closeSessions, err := openImpersonationStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to open impersonation store: %w", err)
	}
	defer closeSessions()

	security := logger.NewSecurityLogger(nil)
	auditWriter := audit.NewMultiWriter(
		audit.NewSlogWriter(nil),
		audit.NewStoreWriter(st.AuditLog(), instruments),
	)

	resolver, err := identity.NewJWTResolver(identity.JWTConfig{
		Secret:   cfg.Auth.JWTSecret,
		Issuer:   cfg.Auth.JWTIssuer,
		Audience: cfg.Auth.JWTAudience,
		Leeway:   cfg.Auth.JWTLeeway,
	})
	if err != nil {
		return fmt.Errorf("failed to create token resolver: %w", err)
	}

	roles := authz.NewRoleLookup(st.GlobalRoles(), authz.LookupConfig{
		CacheTTL:  cfg.Authz.RoleCacheTTL,
		CacheSize: cfg.Authz.RoleCacheSize,
	}, instruments)
	sessions := impersonation.NewService(sessionStore, auditWriter)
	guards := authz.NewGuards(
		resolver,
		roles,
		tenant.NewMembershipAccessor(st.Memberships(), instruments),
		sessions,
		security,
		instruments,
	)

	tenants := tenant.NewService(st, auditWriter,
		tenant.WithInvitationTTL(cfg.Billing.InvitationTTL),
		tenant.WithInstruments(instruments),
	)

	catalog, err := billing.LoadCatalog(billing.CatalogConfig{
		File:          cfg.Billing.CatalogFile,
		ProPriceID:    cfg.Billing.ProPriceID,
		AdvancedPrice: cfg.Billing.AdvancedPriceID,
		SeatPriceID:   cfg.Billing.SeatPriceID,
		SeatPricePlan: cfg.Billing.SeatPricePlan,
	})
	if err != nil {
		return fmt.Errorf("failed to load price catalog: %w", err)
	}

	var checkout *billing.CheckoutService
	if cfg.Billing.StripeAPIKey != "" {
		checkout = billing.NewCheckoutService(cfg.Billing.StripeAPIKey, st.Tenants(), catalog, billing.CheckoutConfig{
			SuccessURL: cfg.Billing.SuccessURL,
			CancelURL:  cfg.Billing.CancelURL,
		}, auditWriter)
	} else {
		slog.WarnContext(ctx, "STRIPE_API_KEY not set; checkout is disabled")
	}
	if cfg.Billing.WebhookSecret == "" && !cfg.Billing.AllowUnverified {
		slog.WarnContext(ctx, "STRIPE_WEBHOOK_SECRET not set; webhooks will be rejected")
	}
	if cfg.Billing.AllowUnverified {
		slog.ErrorContext(ctx, "BILLING_ALLOW_UNVERIFIED is set; unsigned webhook payloads will change tenant plans. Never enable this in production")
	}

	handler := transportHTTP.NewHandler(transportHTTP.Dependencies{
		Guards:   guards,
		Roles:    roles,
		Tenants:  tenants,
		Invoices: st.Invoices(),
		Verifier: billing.NewVerifier(billing.VerifierConfig{
			Secret:          cfg.Billing.WebhookSecret,
			AllowUnverified: cfg.Billing.AllowUnverified,
			Tolerance:       cfg.Billing.WebhookTolerance,
		}),
		Reconciler:    billing.NewReconciler(st.Tenants(), st.Invoices(), catalog, auditWriter, instruments),
		Checkout:      checkout,
		Impersonation: sessions,
		PlatformRoles: authz.NewService(st.GlobalRoles(), roles, auditWriter),
		AuditLog:      st.AuditLog(),
		Security:      security,
	})

	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Stop()

	srv := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      transportHTTP.NewRouter(handler, rateLimiter, cfg.Authz.RequestTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.InfoContext(ctx, "server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	slog.Info("server stopped")
	return nil
}

func shutdownWith(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := fn(ctx); err != nil {
		slog.Error("failed to shut down "+name, logger.Error(err))
	}
}
