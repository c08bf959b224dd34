package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/gamerdeathbot/crypto"
)

// ProviderTwitch is the oauth_tokens row holding the bot's chat token.
const ProviderTwitch = "twitch"

// OAuthToken is a stored user token with its secrets in plaintext.
type OAuthToken struct {
	Provider     string
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	Scope        string
}

// TokenStore reads and writes oauth_tokens. With a nil Encryptor tokens are
// stored in plaintext (encryption_version 0); otherwise they are AES-GCM
// encrypted (encryption_version 1).
type TokenStore struct {
	DB        *sql.DB
	Encryptor *crypto.AESEncryptor
}

// Upsert stores or replaces the token for t.Provider.
func (s *TokenStore) Upsert(ctx context.Context, t OAuthToken) error {
	access, refresh := t.AccessToken, t.RefreshToken
	version, keyID := 0, ""
	if s.Encryptor != nil {
		var err error
		if access, err = crypto.EncryptString(s.Encryptor, access); err != nil {
			return fmt.Errorf("encrypt access token: %w", err)
		}
		if refresh, err = crypto.EncryptString(s.Encryptor, refresh); err != nil {
			return fmt.Errorf("encrypt refresh token: %w", err)
		}
		version, keyID = 1, s.Encryptor.KeyID()
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO oauth_tokens(provider, access_token, refresh_token, expires_at, scope, encryption_version, encryption_key_id, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,NOW())
		 ON CONFLICT(provider) DO UPDATE SET
		   access_token=EXCLUDED.access_token,
		   refresh_token=EXCLUDED.refresh_token,
		   expires_at=EXCLUDED.expires_at,
		   scope=EXCLUDED.scope,
		   encryption_version=EXCLUDED.encryption_version,
		   encryption_key_id=EXCLUDED.encryption_key_id,
		   updated_at=NOW()`,
		t.Provider, access, refresh, t.Expiry, t.Scope, version, keyID)
	if err != nil {
		return fmt.Errorf("upsert oauth token: %w", err)
	}
	return nil
}

// Get returns the token for provider, or nil if none is stored.
func (s *TokenStore) Get(ctx context.Context, provider string) (*OAuthToken, error) {
	t := OAuthToken{Provider: provider}
	var version int
	var expiry sql.NullTime
	var scope, keyID sql.NullString
	err := s.DB.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, expires_at, scope, COALESCE(encryption_version, 0), encryption_key_id
		 FROM oauth_tokens WHERE provider = $1`, provider).
		Scan(&t.AccessToken, &t.RefreshToken, &expiry, &scope, &version, &keyID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get oauth token: %w", err)
	}
	t.Expiry = expiry.Time
	t.Scope = scope.String

	if version == 1 {
		if s.Encryptor == nil {
			return nil, fmt.Errorf("token is encrypted but ENCRYPTION_KEY not configured")
		}
		if keyID.Valid && keyID.String != "" && keyID.String != s.Encryptor.KeyID() {
			return nil, fmt.Errorf("token encrypted with key %s, configured key is %s", keyID.String, s.Encryptor.KeyID())
		}
		if t.AccessToken, err = crypto.DecryptString(s.Encryptor, t.AccessToken); err != nil {
			return nil, fmt.Errorf("decrypt access token: %w", err)
		}
		if t.RefreshToken, err = crypto.DecryptString(s.Encryptor, t.RefreshToken); err != nil {
			return nil, fmt.Errorf("decrypt refresh token: %w", err)
		}
	}
	return &t, nil
}

// PlaintextProviders lists providers whose tokens are not yet encrypted.
func (s *TokenStore) PlaintextProviders(ctx context.Context) ([]string, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT provider FROM oauth_tokens WHERE COALESCE(encryption_version, 0) = 0 ORDER BY provider`)
	if err != nil {
		return nil, fmt.Errorf("list plaintext tokens: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
