// Package main provides a CLI tool to migrate OAuth tokens from plaintext to encrypted storage.
//
// This tool encrypts all tokens where encryption_version=0 (plaintext) to version=1 (AES-256-GCM encrypted).
// It requires ENCRYPTION_KEY environment variable to be set.
//
// Usage:
//
//	migrate-tokens [--dry-run] [--provider PROVIDER]
//
// Environment Variables:
//
//	DB_DSN: Database connection string (required)
//	ENCRYPTION_KEY: Base64-encoded 32-byte encryption key (required)
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"

	"github.com/onnwee/gamerdeathbot/crypto"
	"github.com/onnwee/gamerdeathbot/db"
)

func main() {
	dryRun := flag.Bool("dry-run", false, "Show what would be migrated without making changes")
	provider := flag.String("provider", "", "Migrate the token for one provider only (default: all)")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})))
	_ = godotenv.Load()

	encryptor, err := crypto.FromEnv()
	if err != nil {
		slog.Error("failed to initialize encryptor", slog.Any("err", err))
		os.Exit(1)
	}
	if encryptor == nil {
		slog.Error("ENCRYPTION_KEY environment variable is required for migration")
		os.Exit(1)
	}

	ctx := context.Background()
	database, err := db.Connect(ctx, os.Getenv("DB_DSN"))
	if err != nil {
		slog.Error("failed to connect to database", slog.Any("err", err))
		os.Exit(1)
	}
	defer database.Close()

	if err := migrateTokens(ctx, database, encryptor, *dryRun, *provider); err != nil {
		slog.Error("migration failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := validateMigration(ctx, database); err != nil {
		slog.Warn("could not report encryption status", slog.Any("err", err))
	}
	slog.Info("migration completed successfully")
}

// migrateTokens encrypts every plaintext token, or only the one for providerFilter.
func migrateTokens(ctx context.Context, database *sql.DB, encryptor *crypto.AESEncryptor, dryRun bool, providerFilter string) error {
	plain := &db.TokenStore{DB: database}
	providers, err := plain.PlaintextProviders(ctx)
	if err != nil {
		return err
	}
	if providerFilter != "" {
		var only []string
		for _, p := range providers {
			if p == providerFilter {
				only = append(only, p)
			}
		}
		providers = only
	}
	if len(providers) == 0 {
		slog.Info("no plaintext tokens found to migrate")
		return nil
	}
	slog.Info("found plaintext tokens to migrate", slog.Int("count", len(providers)), slog.Bool("dry_run", dryRun))

	migrated, failed := 0, 0
	for i, p := range providers {
		logger := slog.With(slog.String("provider", p), slog.Int("index", i+1), slog.Int("total", len(providers)))
		if dryRun {
			logger.Info("would migrate token (dry-run)")
			migrated++
			continue
		}
		tok, err := plain.Get(ctx, p)
		if err == nil && tok == nil {
			err = fmt.Errorf("token disappeared")
		}
		if err == nil {
			err = migrateToken(ctx, database, encryptor, *tok)
		}
		if err != nil {
			logger.Error("failed to migrate token", slog.Any("err", err))
			failed++
			continue
		}
		logger.Info("migrated token successfully")
		migrated++
	}

	slog.Info("migration summary",
		slog.Int("total", len(providers)),
		slog.Int("migrated", migrated),
		slog.Int("errors", failed),
		slog.Bool("dry_run", dryRun))
	if failed > 0 {
		return fmt.Errorf("migration completed with %d errors", failed)
	}
	return nil
}

// migrateToken encrypts one token in place. The row must still be plaintext.
func migrateToken(ctx context.Context, database *sql.DB, encryptor *crypto.AESEncryptor, tok db.OAuthToken) error {
	tx, err := database.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback on error is best effort

	access, err := crypto.EncryptString(encryptor, tok.AccessToken)
	if err != nil {
		return fmt.Errorf("encrypt access token: %w", err)
	}
	refresh, err := crypto.EncryptString(encryptor, tok.RefreshToken)
	if err != nil {
		return fmt.Errorf("encrypt refresh token: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		UPDATE oauth_tokens
		SET access_token = $1,
		    refresh_token = $2,
		    encryption_version = 1,
		    encryption_key_id = $3,
		    updated_at = NOW()
		WHERE provider = $4 AND COALESCE(encryption_version, 0) = 0`,
		access, refresh, encryptor.KeyID(), tok.Provider)
	if err != nil {
		return fmt.Errorf("update token: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if n != 1 {
		return fmt.Errorf("expected 1 row updated, got %d (token may have been modified concurrently)", n)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// validateMigration logs how many tokens are stored at each encryption version.
func validateMigration(ctx context.Context, database *sql.DB) error {
	rows, err := database.QueryContext(ctx, `
		SELECT COALESCE(encryption_version, 0), COUNT(*)
		FROM oauth_tokens
		GROUP BY 1
		ORDER BY 1`)
	if err != nil {
		return fmt.Errorf("query validation: %w", err)
	}
	defer rows.Close()

	total := 0
	for rows.Next() {
		var version, count int
		if err := rows.Scan(&version, &count); err != nil {
			return fmt.Errorf("scan validation row: %w", err)
		}
		desc := fmt.Sprintf("unknown version %d", version)
		switch version {
		case 0:
			desc = "plaintext"
		case 1:
			desc = "encrypted (AES-256-GCM)"
		}
		slog.Info("token encryption status", slog.Int("encryption_version", version), slog.String("description", desc), slog.Int("count", count))
		total += count
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("validation rows iteration: %w", err)
	}
	slog.Info("total tokens", slog.Int("count", total))
	return nil
}
