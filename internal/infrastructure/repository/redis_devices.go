package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/beegy-labs/notification-service/internal/domain/device"
)

// RedisDeviceRegistry keeps one JSON row per token plus the indexes the
// registry contract needs:
//
//	device:{tenant}:{account}:{id}       row json
//	device_accounts:{tenant}:{account}   set of row ids
//	device_tokens:{token}                json ref {tenant, account, id}
//	device_ids:{tenant}:{account}:{dev}  row id
//	device_last_used                     zset, member token, score unix
//
// The token index is keyed on the raw token alone so EvictByToken can
// remove a dead token without knowing which tenant owns it. The
// last-used zset feeds the stale sweeper.
type RedisDeviceRegistry struct {
	client *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

type tokenRef struct {
	TenantID  string `json:"tenant_id"`
	AccountID string `json:"account_id"`
	ID        string `json:"id"`
}

func NewRedisDeviceRegistry(client *redis.Client, logger *zap.Logger) *RedisDeviceRegistry {
	return &RedisDeviceRegistry{client: client, logger: logger, now: time.Now}
}

func deviceRowKey(tenantID, accountID, id string) string {
	return fmt.Sprintf("device:%s:%s:%s", tenantID, accountID, id)
}

func deviceAccountKey(tenantID, accountID string) string {
	return fmt.Sprintf("device_accounts:%s:%s", tenantID, accountID)
}

func deviceTokenKey(token string) string {
	return "device_tokens:" + token
}

func deviceIDKey(tenantID, accountID, deviceID string) string {
	return fmt.Sprintf("device_ids:%s:%s:%s", tenantID, accountID, deviceID)
}

const deviceLastUsedKey = "device_last_used"

func (r *RedisDeviceRegistry) tokenRef(ctx context.Context, token string) (*tokenRef, error) {
	raw, err := r.client.Get(ctx, deviceTokenKey(token)).Result()
	if err == redis.Nil {
		return nil, device.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read token index: %w", err)
	}
	var ref tokenRef
	if err := json.Unmarshal([]byte(raw), &ref); err != nil {
		return nil, fmt.Errorf("decode token index: %w", err)
	}
	return &ref, nil
}

func (r *RedisDeviceRegistry) getRow(ctx context.Context, tenantID, accountID, id string) (*device.Token, error) {
	raw, err := r.client.Get(ctx, deviceRowKey(tenantID, accountID, id)).Result()
	if err == redis.Nil {
		return nil, device.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read device row: %w", err)
	}
	var row device.Token
	if err := json.Unmarshal([]byte(raw), &row); err != nil {
		return nil, fmt.Errorf("decode device row: %w", err)
	}
	return &row, nil
}

func (r *RedisDeviceRegistry) deleteRow(ctx context.Context, row *device.Token) error {
	pipe := r.client.TxPipeline()
	pipe.Del(ctx, deviceRowKey(row.TenantID, row.AccountID, row.ID))
	pipe.SRem(ctx, deviceAccountKey(row.TenantID, row.AccountID), row.ID)
	pipe.Del(ctx, deviceTokenKey(row.Token))
	pipe.ZRem(ctx, deviceLastUsedKey, row.Token)
	if row.DeviceID != "" {
		pipe.Del(ctx, deviceIDKey(row.TenantID, row.AccountID, row.DeviceID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("delete device row: %w", err)
	}
	return nil
}

func (r *RedisDeviceRegistry) Register(ctx context.Context, t *device.Token) (string, error) {
	now := r.now().UTC()

	// Upsert target: the account's row for this deviceId, else the
	// account's row already holding this token.
	var row *device.Token
	if t.DeviceID != "" {
		id, err := r.client.Get(ctx, deviceIDKey(t.TenantID, t.AccountID, t.DeviceID)).Result()
		if err != nil && err != redis.Nil {
			return "", fmt.Errorf("read device index: %w", err)
		}
		if err == nil {
			if row, err = r.getRow(ctx, t.TenantID, t.AccountID, id); err != nil && !errors.Is(err, device.ErrNotFound) {
				return "", err
			}
		}
	}
	ref, err := r.tokenRef(ctx, t.Token)
	if err != nil && !errors.Is(err, device.ErrNotFound) {
		return "", err
	}
	if row == nil && ref != nil && ref.TenantID == t.TenantID && ref.AccountID == t.AccountID {
		cand, err := r.getRow(ctx, ref.TenantID, ref.AccountID, ref.ID)
		if err != nil && !errors.Is(err, device.ErrNotFound) {
			return "", err
		}
		if cand != nil && (t.DeviceID == "" || cand.DeviceID == "") {
			row = cand
		}
	}

	// Any other row still holding this token loses it. That includes
	// rows under a different account: re-registering a token moves it.
	if ref != nil && (row == nil || ref.ID != row.ID) {
		if other, err := r.getRow(ctx, ref.TenantID, ref.AccountID, ref.ID); err == nil {
			if err := r.deleteRow(ctx, other); err != nil {
				return "", err
			}
		} else if errors.Is(err, device.ErrNotFound) {
			// Dangling index entry.
			r.client.Del(ctx, deviceTokenKey(t.Token))
		} else {
			return "", err
		}
	}

	oldToken, oldDeviceID := "", ""
	if row == nil {
		row = &device.Token{
			ID:        uuid.New().String(),
			TenantID:  t.TenantID,
			AccountID: t.AccountID,
			CreatedAt: now,
		}
	} else {
		oldToken, oldDeviceID = row.Token, row.DeviceID
	}
	if t.DeviceID != "" {
		row.DeviceID = t.DeviceID
	}
	row.Token = t.Token
	row.Platform = t.Platform
	row.DeviceInfo = t.DeviceInfo
	row.LastUsedAt = now

	rowJSON, err := json.Marshal(row)
	if err != nil {
		return "", fmt.Errorf("encode device row: %w", err)
	}
	refJSON, err := json.Marshal(tokenRef{TenantID: row.TenantID, AccountID: row.AccountID, ID: row.ID})
	if err != nil {
		return "", fmt.Errorf("encode token index: %w", err)
	}

	pipe := r.client.TxPipeline()
	if oldToken != "" && oldToken != row.Token {
		pipe.Del(ctx, deviceTokenKey(oldToken))
		pipe.ZRem(ctx, deviceLastUsedKey, oldToken)
	}
	if oldDeviceID != "" && oldDeviceID != row.DeviceID {
		pipe.Del(ctx, deviceIDKey(row.TenantID, row.AccountID, oldDeviceID))
	}
	pipe.Set(ctx, deviceRowKey(row.TenantID, row.AccountID, row.ID), rowJSON, 0)
	pipe.SAdd(ctx, deviceAccountKey(row.TenantID, row.AccountID), row.ID)
	pipe.Set(ctx, deviceTokenKey(row.Token), refJSON, 0)
	pipe.ZAdd(ctx, deviceLastUsedKey, &redis.Z{Score: float64(now.Unix()), Member: row.Token})
	if row.DeviceID != "" {
		pipe.Set(ctx, deviceIDKey(row.TenantID, row.AccountID, row.DeviceID), row.ID, 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("write device row: %w", err)
	}
	return row.ID, nil
}

func (r *RedisDeviceRegistry) Unregister(ctx context.Context, tenantID, accountID, token string) (bool, error) {
	ref, err := r.tokenRef(ctx, token)
	if errors.Is(err, device.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if ref.TenantID != tenantID || ref.AccountID != accountID {
		return false, nil
	}
	row, err := r.getRow(ctx, ref.TenantID, ref.AccountID, ref.ID)
	if errors.Is(err, device.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := r.deleteRow(ctx, row); err != nil {
		return false, err
	}
	return true, nil
}

func (r *RedisDeviceRegistry) ListForAccount(ctx context.Context, tenantID, accountID string) ([]*device.Token, error) {
	ids, err := r.client.SMembers(ctx, deviceAccountKey(tenantID, accountID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read account index: %w", err)
	}
	out := make([]*device.Token, 0, len(ids))
	for _, id := range ids {
		row, err := r.getRow(ctx, tenantID, accountID, id)
		if errors.Is(err, device.ErrNotFound) {
			r.client.SRem(ctx, deviceAccountKey(tenantID, accountID), id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	sortTokensByLastUsed(out)
	return out, nil
}

func (r *RedisDeviceRegistry) ActiveTokens(ctx context.Context, tenantID, accountID string) ([]string, error) {
	rows, err := r.ListForAccount(ctx, tenantID, accountID)
	if err != nil {
		return nil, err
	}
	tokens := make([]string, 0, len(rows))
	for _, row := range rows {
		tokens = append(tokens, row.Token)
	}
	return tokens, nil
}

func (r *RedisDeviceRegistry) EvictByToken(ctx context.Context, token string) error {
	ref, err := r.tokenRef(ctx, token)
	if errors.Is(err, device.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	row, err := r.getRow(ctx, ref.TenantID, ref.AccountID, ref.ID)
	if errors.Is(err, device.ErrNotFound) {
		r.client.Del(ctx, deviceTokenKey(token))
		r.client.ZRem(ctx, deviceLastUsedKey, token)
		return nil
	}
	if err != nil {
		return err
	}
	return r.deleteRow(ctx, row)
}

func (r *RedisDeviceRegistry) DeleteStale(ctx context.Context, olderThan time.Time) (int64, error) {
	max := fmt.Sprintf("(%d", olderThan.Unix())
	tokens, err := r.client.ZRangeByScore(ctx, deviceLastUsedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: max,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("scan stale tokens: %w", err)
	}
	var removed int64
	for _, token := range tokens {
		if err := r.EvictByToken(ctx, token); err != nil {
			r.logger.Warn("failed to remove stale device token", zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
