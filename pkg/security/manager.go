// Package security covers the trust boundary of the server: bearer JWTs,
// opaque API keys with hashed-at-rest storage, permission checks, request
// input validation, and per-client rate limiting.
package security

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/polyagents/polyagents/pkg/config"
	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/models"
)

const (
	jwtIssuer = "polyagents"
	jwtTTL    = 24 * time.Hour

	apiKeyPrefix = "pa_"
	// apiKeyBytes of entropy per generated key; encodes to 43 URL-safe
	// characters.
	apiKeyBytes = 32
	// minAPIKeyChars is the minimum length of the part after the prefix
	// for a presented key to be considered at all.
	minAPIKeyChars = 32
)

// Bootstrap keys without explicit permissions get conversational access.
var defaultKeyPermissions = []string{"chat:read", "chat:write"}

// Identity is an authenticated caller, from either a JWT or an API key.
type Identity struct {
	ClientID    string   `json:"client_id"`
	Name        string   `json:"name"`
	Permissions []string `json:"permissions"`
}

// HasPermission reports whether the identity carries the permission
// directly or through admin:all.
func (id *Identity) HasPermission(permission string) bool {
	for _, p := range id.Permissions {
		if p == "admin:all" || p == permission {
			return true
		}
	}
	return false
}

// jwtClaims is the token payload: registered claims plus the user id and
// permission grants.
type jwtClaims struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
	jwt.RegisteredClaims
}

// Manager authenticates callers and manages API key lifecycle.
type Manager struct {
	secret []byte
	store  KeyStore
}

// NewManager builds a Manager over the given key store. An empty JWT
// secret gets an ephemeral replacement, which invalidates all previously
// issued tokens at every restart.
func NewManager(cfg config.SecurityConfig, store KeyStore) (*Manager, error) {
	secret := []byte(cfg.JWTSecretKey)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, fault.Wrap(fault.KindDependency, "security.NewManager", err)
		}
		slog.Warn("JWT secret not configured, generated an ephemeral one; tokens will not survive a restart")
	}
	return &Manager{secret: secret, store: store}, nil
}

// IssueToken signs a 24-hour HS256 token for the user.
func (m *Manager) IssueToken(userID string, permissions []string) (string, error) {
	const op = "security.IssueToken"

	now := time.Now()
	claims := jwtClaims{
		UserID:      userID,
		Permissions: permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    jwtIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(jwtTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", fault.Wrap(fault.KindConfiguration, op, err)
	}
	return signed, nil
}

// VerifyToken parses and validates a bearer JWT. Expired, malformed,
// foreign-issuer, or otherwise invalid tokens fail with Authentication.
func (m *Manager) VerifyToken(token string) (*Identity, error) {
	const op = "security.VerifyToken"

	claims := &jwtClaims{}
	_, err := jwt.ParseWithClaims(token, claims,
		func(t *jwt.Token) (any, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(jwtIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			slog.Warn("JWT token expired")
		}
		return nil, fault.Wrap(fault.KindAuthentication, op, err)
	}

	return &Identity{
		ClientID:    claims.UserID,
		Name:        "JWT User " + claims.UserID,
		Permissions: claims.Permissions,
	}, nil
}

// GenerateAPIKey returns a fresh clear-text key: "pa_" plus 43 URL-safe
// characters from 32 random bytes.
func GenerateAPIKey() (string, error) {
	buf := make([]byte, apiKeyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fault.Wrap(fault.KindDependency, "security.GenerateAPIKey", err)
	}
	return apiKeyPrefix + base64.RawURLEncoding.EncodeToString(buf), nil
}

// HashKey is the at-rest form of an API key: lowercase SHA-256 hex.
func HashKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// CreateAPIKey registers a key and returns the clear key exactly once.
// An empty keyValue generates a fresh key.
func (m *Manager) CreateAPIKey(ctx context.Context, name string, permissions []string, keyValue string) (*models.CreateAPIKeyResponse, error) {
	const op = "security.CreateAPIKey"

	if name == "" {
		return nil, &fault.Error{Kind: fault.KindValidation, Op: op, Message: "api key name is required"}
	}
	if keyValue == "" {
		var err error
		if keyValue, err = GenerateAPIKey(); err != nil {
			return nil, err
		}
	}

	keyID := make([]byte, 16)
	if _, err := rand.Read(keyID); err != nil {
		return nil, fault.Wrap(fault.KindDependency, op, err)
	}

	info := &models.APIKeyInfo{
		KeyID:       base64.RawURLEncoding.EncodeToString(keyID),
		Name:        name,
		Permissions: permissions,
		CreatedAt:   time.Now().UTC(),
		IsActive:    true,
	}
	if err := m.store.InsertAPIKey(ctx, info, HashKey(keyValue)); err != nil {
		return nil, err
	}

	slog.Info("Created API key", "name", name, "key_id", info.KeyID, "permissions", permissions)

	return &models.CreateAPIKeyResponse{
		KeyID:       info.KeyID,
		APIKey:      keyValue,
		Name:        name,
		Permissions: permissions,
	}, nil
}

// VerifyAPIKey authenticates a presented key. Unknown, malformed,
// revoked, and inactive keys all fail with Authentication.
func (m *Manager) VerifyAPIKey(ctx context.Context, key string) (*Identity, error) {
	const op = "security.VerifyAPIKey"

	if !strings.HasPrefix(key, apiKeyPrefix) || len(key) < len(apiKeyPrefix)+minAPIKeyChars {
		return nil, &fault.Error{Kind: fault.KindAuthentication, Op: op, Message: "invalid api key"}
	}

	info, err := m.store.APIKeyByHash(ctx, HashKey(key))
	if err != nil {
		return nil, err
	}
	if info == nil || !info.IsActive {
		return nil, &fault.Error{Kind: fault.KindAuthentication, Op: op, Message: "invalid api key"}
	}

	// Usage accounting is advisory; an audit hiccup must not reject an
	// otherwise valid key.
	if err := m.store.TouchAPIKey(ctx, info.KeyID); err != nil {
		slog.Warn("Failed to record api key use", "key_id", info.KeyID, "error", err)
	}

	return &Identity{
		ClientID:    info.KeyID,
		Name:        info.Name,
		Permissions: info.Permissions,
	}, nil
}

// RevokeAPIKey deactivates a key by id. Returns false when no active key
// matched.
func (m *Manager) RevokeAPIKey(ctx context.Context, keyID string) (bool, error) {
	revoked, err := m.store.RevokeAPIKey(ctx, keyID)
	if err != nil {
		return false, err
	}
	if revoked {
		slog.Info("Revoked API key", "key_id", keyID)
	}
	return revoked, nil
}

// ListAPIKeys returns stored key records without secret material.
func (m *Manager) ListAPIKeys(ctx context.Context) ([]*models.APIKeyInfo, error) {
	return m.store.ListAPIKeys(ctx)
}

// Authorize checks that the identity carries the required permission or
// admin:all. A nil identity fails with Authentication so handlers can
// map it to 401 rather than 403.
func (m *Manager) Authorize(identity *Identity, permission string) error {
	const op = "security.Authorize"

	if identity == nil {
		return &fault.Error{Kind: fault.KindAuthentication, Op: op, Message: "authentication required"}
	}
	if !identity.HasPermission(permission) {
		return &fault.Error{Kind: fault.KindAuthorization, Op: op, Message: "permission required: " + permission}
	}
	return nil
}

// Bootstrap provisions the configured default API keys. Names already in
// the store are skipped, so boot is idempotent even for keys whose value
// was generated on a previous boot. Generated keys are logged once in
// the clear; there is no other way to hand them out.
func (m *Manager) Bootstrap(ctx context.Context, keys []config.BootstrapAPIKey) error {
	stored, err := m.store.ListAPIKeys(ctx)
	if err != nil {
		return err
	}
	existing := make(map[string]bool, len(stored))
	for _, k := range stored {
		existing[k.Name] = true
	}

	for _, k := range keys {
		if existing[k.Name] {
			slog.Debug("Bootstrap API key already registered", "name", k.Name)
			continue
		}

		permissions := k.Permissions
		if len(permissions) == 0 {
			permissions = defaultKeyPermissions
		}

		generated := k.Key == ""
		keyValue := k.Key
		if generated {
			var err error
			if keyValue, err = GenerateAPIKey(); err != nil {
				return err
			}
		}

		created, err := m.CreateAPIKey(ctx, k.Name, permissions, keyValue)
		if err != nil {
			if fault.KindOf(err) == fault.KindValidation {
				slog.Debug("Bootstrap API key already registered", "name", k.Name)
				continue
			}
			return err
		}
		if generated {
			slog.Info("Generated bootstrap API key", "name", k.Name, "key_id", created.KeyID, "api_key", created.APIKey)
		}
	}
	return nil
}
