package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/token"
	"github.com/redis/go-redis/v9"
)

type Config struct {
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

func NewClient(cfg Config) redis.UniversalClient {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})
}

// Keys expire in Redis a little after the record would be swept anyway.
// The expiry index is authoritative; key TTLs only bound memory.
const minKeyTTL = time.Minute

var (
	isRevokedScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then return 1 end
local nb = redis.call('HGET', KEYS[2], 'nb')
if nb and tonumber(nb) > tonumber(ARGV[1]) then return 1 end
return 0`)

	revokeScript = redis.NewScript(`
local ok = redis.call('SET', KEYS[1], ARGV[1], 'NX', 'PX', ARGV[2])
if ok then
  redis.call('ZADD', KEYS[2], ARGV[3], KEYS[1])
  return {1, ARGV[1]}
end
return {0, redis.call('GET', KEYS[1])}`)

	revokeSubjectScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'nb')
if cur and tonumber(cur) >= tonumber(ARGV[1]) then return 0 end
redis.call('HSET', KEYS[1], 'nb', ARGV[1], 'reason', ARGV[2], 'exp', ARGV[3])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[3], KEYS[1])
return 1`)

	sweepScript = redis.NewScript(`
local keys = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, k in ipairs(keys) do redis.call('DEL', k) end
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
return #keys`)
)

var _ token.Store = (*RevocationStore)(nil)

// RevocationStore keeps revocations in Redis. Token records are JSON strings
// written with SET NX, subject cutoffs are hashes, and a sorted set scored by
// expiry drives SweepExpired. Scripts touch several keys, so on a cluster the
// prefix must carry a hash tag.
type RevocationStore struct {
	rdb       redis.UniversalClient
	keyPrefix string
}

func NewRevocationStore(rdb redis.UniversalClient, keyPrefix string) *RevocationStore {
	if keyPrefix == "" {
		keyPrefix = "{sentinel}:revocation:"
	}
	return &RevocationStore{rdb: rdb, keyPrefix: keyPrefix}
}

func (s *RevocationStore) tokenKey(id string) string   { return s.keyPrefix + "tok:" + id }
func (s *RevocationStore) subjectKey(id string) string { return s.keyPrefix + "sub:" + id }
func (s *RevocationStore) indexKey() string            { return s.keyPrefix + "expiry" }

func (s *RevocationStore) IsRevoked(ctx context.Context, tokenID, subjectID string, issuedAt time.Time) (bool, error) {
	n, err := isRevokedScript.Run(ctx, s.rdb,
		[]string{s.tokenKey(tokenID), s.subjectKey(subjectID)},
		issuedAt.UnixMicro(),
	).Int()
	if err != nil {
		return false, fmt.Errorf("revocation lookup: %w", err)
	}
	return n == 1, nil
}

type storedRecord struct {
	TokenID   string             `json:"jti"`
	SubjectID string             `json:"sub"`
	Kind      token.Kind         `json:"kind"`
	Reason    token.RevokeReason `json:"reason"`
	RevokedAt time.Time          `json:"revoked_at"`
	ExpiresAt time.Time          `json:"expires_at"`
}

func (s *RevocationStore) Revoke(ctx context.Context, rec token.RevocationRecord) (token.RevocationRecord, bool, error) {
	data, err := json.Marshal(storedRecord(rec))
	if err != nil {
		return token.RevocationRecord{}, false, fmt.Errorf("marshal revocation: %w", err)
	}

	res, err := revokeScript.Run(ctx, s.rdb,
		[]string{s.tokenKey(rec.TokenID), s.indexKey()},
		string(data), keyTTL(rec.ExpiresAt).Milliseconds(), rec.ExpiresAt.UnixMicro(),
	).Slice()
	if err != nil {
		return token.RevocationRecord{}, false, fmt.Errorf("revoke: %w", err)
	}
	if len(res) != 2 {
		return token.RevocationRecord{}, false, fmt.Errorf("revoke: unexpected reply %v", res)
	}

	created, _ := res[0].(int64)
	raw, ok := res[1].(string)
	if !ok {
		return token.RevocationRecord{}, false, errors.New("revoke: record vanished")
	}
	var stored storedRecord
	if err := json.Unmarshal([]byte(raw), &stored); err != nil {
		return token.RevocationRecord{}, false, fmt.Errorf("unmarshal revocation: %w", err)
	}
	return token.RevocationRecord(stored), created == 1, nil
}

func (s *RevocationStore) RevokeSubject(ctx context.Context, rev token.SubjectRevocation) error {
	err := revokeSubjectScript.Run(ctx, s.rdb,
		[]string{s.subjectKey(rev.SubjectID), s.indexKey()},
		rev.NotBefore.UnixMicro(), string(rev.Reason), rev.ExpiresAt.UnixMicro(), keyTTL(rev.ExpiresAt).Milliseconds(),
	).Err()
	if err != nil {
		return fmt.Errorf("revoke subject: %w", err)
	}
	return nil
}

func (s *RevocationStore) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := sweepScript.Run(ctx, s.rdb, []string{s.indexKey()}, strconv.FormatInt(now.UnixMicro(), 10)).Int64()
	if err != nil {
		return 0, fmt.Errorf("sweep revocations: %w", err)
	}
	return n, nil
}

func keyTTL(expiresAt time.Time) time.Duration {
	return max(time.Until(expiresAt), 0) + minKeyTTL
}
