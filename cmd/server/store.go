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
	"fmt"
	"log/slog"

	"github.com/portalcore/portalcore/internal/audit"
	"github.com/portalcore/portalcore/internal/authz"
	"github.com/portalcore/portalcore/internal/billing"
	"github.com/portalcore/portalcore/internal/config"
	"github.com/portalcore/portalcore/internal/impersonation"
	"github.com/portalcore/portalcore/internal/store/memory"
	"github.com/portalcore/portalcore/internal/store/postgres"
	"github.com/portalcore/portalcore/internal/tenant"
)

// store is what both persistence backends provide
type store interface {
	tenant.Store
	Invoices() billing.InvoiceRepository
	GlobalRoles() authz.GlobalRoleRepository
	AuditLog() audit.Repository
}

var (
	_ store = (*memory.Store)(nil)
	_ store = (*postgres.Store)(nil)
)

func databaseConfig(cfg *config.Config) postgres.Config {
	return postgres.Config{
		URL:          cfg.Database.URL,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		Database:     cfg.Database.Database,
		SSLMode:      cfg.Database.SSLMode,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	}
}

// openDatabase connects to PostgreSQL. Commands that manage persistent
// state refuse to run against the memory store.
func openDatabase(ctx context.Context, cfg *config.Config) (*postgres.DB, error) {
	if cfg.Store.Driver != config.StorePostgres {
		return nil, fmt.Errorf("this command requires STORE_DRIVER=%s", config.StorePostgres)
	}
	return postgres.New(ctx, databaseConfig(cfg))
}

// openStore returns the configured store and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config) (store, func(), error) {
	if cfg.Store.Driver == config.StoreMemory {
		slog.WarnContext(ctx, "using in-memory store; data is lost on restart")
		return memory.New(), func() {}, nil
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	slog.InfoContext(ctx, "connected to database")
	return postgres.NewStore(db), db.Close, nil
}

// openImpersonationStore returns the configured session store and a
// function releasing it.
func openImpersonationStore(ctx context.Context, cfg *config.Config) (impersonation.Store, func(), error) {
	if cfg.Impersonation.Backend != config.ImpersonationRedis {
		return impersonation.NewMemoryStore(), func() {}, nil
	}

	rs, err := impersonation.NewRedisStoreFromURL(ctx, cfg.Impersonation.RedisURL)
	if err != nil {
		return nil, nil, err
	}
	return rs, func() {
		if err := rs.Close(); err != nil {
			slog.Error("failed to close redis client", slog.Any("error", err))
		}
	}, nil
}
