package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/polyagents/polyagents/pkg/fault"
	"github.com/polyagents/polyagents/pkg/models"
)

// InsertAPIKey stores a new key record. Only the SHA-256 hash of the key is
// persisted; hashes are unique so re-registering the same key fails.
func (s *Store) InsertAPIKey(ctx context.Context, info *models.APIKeyInfo, keyHash string) error {
	const op = "audit.insert_api_key"

	permissions, err := json.Marshal(info.Permissions)
	if err != nil {
		return fault.Wrap(fault.KindValidation, op, err)
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO api_keys (key_id, key_hash, name, permissions, created_at, is_active, usage_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		info.KeyID, keyHash, info.Name, permissions, info.CreatedAt.UTC(), info.IsActive, info.UsageCount,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return &fault.Error{Kind: fault.KindValidation, Op: op, Message: "api key already registered: " + info.KeyID}
		}
		return fault.Wrap(fault.KindDependency, op, err)
	}
	return nil
}

// APIKeyByHash looks up a key record by the SHA-256 hash of the presented
// key. Returns nil when no such key exists; revoked keys are returned with
// IsActive false so callers can distinguish unknown from revoked.
func (s *Store) APIKeyByHash(ctx context.Context, keyHash string) (*models.APIKeyInfo, error) {
	const op = "audit.api_key_by_hash"

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT key_id, name, permissions, created_at, last_used, is_active, usage_count
		FROM api_keys
		WHERE key_hash = $1`,
		keyHash,
	)

	info, err := scanAPIKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fault.Wrap(fault.KindDependency, op, err)
	}
	return info, nil
}

// TouchAPIKey records a successful use of the key.
func (s *Store) TouchAPIKey(ctx context.Context, keyID string) error {
	const op = "audit.touch_api_key"

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET last_used = now(), usage_count = usage_count + 1
		WHERE key_id = $1`,
		keyID,
	)
	if err != nil {
		return fault.Wrap(fault.KindDependency, op, err)
	}
	return nil
}

// RevokeAPIKey deactivates a key. Returns false when the key does not exist
// or was already revoked.
func (s *Store) RevokeAPIKey(ctx context.Context, keyID string) (bool, error) {
	const op = "audit.revoke_api_key"

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, `
		UPDATE api_keys
		SET is_active = FALSE
		WHERE key_id = $1 AND is_active`,
		keyID,
	)
	if err != nil {
		return false, fault.Wrap(fault.KindDependency, op, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fault.Wrap(fault.KindDependency, op, err)
	}
	return affected > 0, nil
}

// ListAPIKeys returns all key records, oldest first, without secret material.
func (s *Store) ListAPIKeys(ctx context.Context) ([]*models.APIKeyInfo, error) {
	const op = "audit.list_api_keys"

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT key_id, name, permissions, created_at, last_used, is_active, usage_count
		FROM api_keys
		ORDER BY created_at`,
	)
	if err != nil {
		return nil, fault.Wrap(fault.KindDependency, op, err)
	}
	defer rows.Close()

	var keys []*models.APIKeyInfo
	for rows.Next() {
		info, err := scanAPIKey(rows)
		if err != nil {
			return nil, fault.Wrap(fault.KindDependency, op, err)
		}
		keys = append(keys, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fault.Wrap(fault.KindDependency, op, err)
	}
	return keys, nil
}

func scanAPIKey(sc scanner) (*models.APIKeyInfo, error) {
	var (
		info        models.APIKeyInfo
		permissions []byte
		created     time.Time
		lastUsed    sql.NullTime
	)
	if err := sc.Scan(&info.KeyID, &info.Name, &permissions, &created, &lastUsed, &info.IsActive, &info.UsageCount); err != nil {
		return nil, err
	}
	info.CreatedAt = created.UTC()
	if lastUsed.Valid {
		t := lastUsed.Time.UTC()
		info.LastUsed = &t
	}
	if len(permissions) > 0 {
		if err := json.Unmarshal(permissions, &info.Permissions); err != nil {
			return nil, err
		}
	}
	return &info, nil
}
