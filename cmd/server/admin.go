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
	"time"

	"github.com/portalcore/portalcore/internal/audit"
	"github.com/portalcore/portalcore/internal/authz"
	"github.com/portalcore/portalcore/internal/config"
	"github.com/portalcore/portalcore/internal/identity"
	"github.com/portalcore/portalcore/internal/store/postgres"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database schema",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return runMigrations(cmd.Context(), cfg)
	},
}

var resetDBCmd = &cobra.Command{
	Use:   "reset-db",
	Short: "Delete all data while keeping the schema",
	Long:  "reset-db truncates every table. It is meant for development databases and refuses to run without --yes.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			return errors.New("refusing to reset without --yes")
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		db, err := openDatabase(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		if err := db.Reset(cmd.Context()); err != nil {
			return err
		}
		slog.Warn("database reset")
		return nil
	},
}

var grantRoleCmd = &cobra.Command{
	Use:   "grant-role <subject-id> <role>",
	Short: "Grant a platform role such as super_admin",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		by, _ := cmd.Flags().GetString("by")
		return withPlatformRoles(cmd.Context(), func(svc *authz.Service) error {
			if err := svc.GrantGlobalRole(cmd.Context(), args[0], args[1], by); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s to %s\n", authz.NormalizeRole(args[1]), args[0])
			return nil
		})
	},
}

var revokeRoleCmd = &cobra.Command{
	Use:   "revoke-role <subject-id> <role>",
	Short: "Revoke a platform role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		by, _ := cmd.Flags().GetString("by")
		return withPlatformRoles(cmd.Context(), func(svc *authz.Service) error {
			if err := svc.RevokeGlobalRole(cmd.Context(), args[0], args[1], by); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %s from %s\n", authz.NormalizeRole(args[1]), args[0])
			return nil
		})
	},
}

var issueTokenCmd = &cobra.Command{
	Use:   "issue-token",
	Short: "Mint a bearer token signed with AUTH_JWT_SECRET",
	Long:  "issue-token signs a short-lived token for local development and smoke tests. Production tokens come from the identity provider.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		subject, _ := cmd.Flags().GetString("subject")
		email, _ := cmd.Flags().GetString("email")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		resolver, err := identity.NewJWTResolver(identity.JWTConfig{
			Secret:   cfg.Auth.JWTSecret,
			Issuer:   cfg.Auth.JWTIssuer,
			Audience: cfg.Auth.JWTAudience,
		})
		if err != nil {
			return err
		}
		token, err := resolver.Issue(identity.Identity{SubjectID: subject, Email: email}, ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), token)
		return nil
	},
}

func init() {
	resetDBCmd.Flags().Bool("yes", false, "confirm that all data should be deleted")

	for _, c := range []*cobra.Command{grantRoleCmd, revokeRoleCmd} {
		c.Flags().String("by", "cli", "actor recorded in the audit log")
	}

	issueTokenCmd.Flags().String("subject", "", "subject id (required)")
	issueTokenCmd.Flags().String("email", "", "email claim")
	issueTokenCmd.Flags().Duration("ttl", defaultTokenTTL, "token lifetime")
	_ = issueTokenCmd.MarkFlagRequired("subject")
}

const defaultTokenTTL = time.Hour

func runMigrations(ctx context.Context, cfg *config.Config) error {
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	slog.InfoContext(ctx, "migrations applied")
	return nil
}

// withPlatformRoles runs fn against the persistent role store. Grants are
// audited with the same writer the server uses.
func withPlatformRoles(ctx context.Context, fn func(*authz.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	st := postgres.NewStore(db)
	writer := audit.NewMultiWriter(
		audit.NewSlogWriter(nil),
		audit.NewStoreWriter(st.AuditLog(), nil),
	)
	return fn(authz.NewService(st.GlobalRoles(), nil, writer))
}
