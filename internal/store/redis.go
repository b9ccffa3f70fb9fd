package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	backend "github.com/redis/go-redis/v9"
)

// Key layout of conversation state. Older deployments keyed state by sender only.
const (
	conversationKeyPrefix = "leadpipe:conv:"
	dedupKeyPrefix        = "leadpipe:dedup:"

	// DefaultDedupTTL bounds how long processed message ids are remembered in Redis.
	DefaultDedupTTL = 72 * time.Hour
)

// ConversationKey is the tenant-scoped key of a conversation.
func ConversationKey(tenantID, senderID string) string {
	return conversationKeyPrefix + tenantID + ":" + senderID
}

// LegacyConversationKey is the pre-tenant key of a conversation.
func LegacyConversationKey(senderID string) string {
	return conversationKeyPrefix + senderID
}

// RedisStore keeps conversation state and inbound dedup markers in Redis.
type RedisStore struct {
	client   *backend.Client
	dedupTTL time.Duration
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithDedupTTL sets how long processed message ids are remembered.
func WithDedupTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.dedupTTL = ttl
	}
}

var (
	_ ConversationStore = (*RedisStore)(nil)
	_ DedupRepo         = (*RedisStore)(nil)
)

// NewRedisStore connects to Redis at address.
func NewRedisStore(address, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewRedisStoreFromClient(client, opts...)
}

// NewRedisStoreFromClient creates a RedisStore from an existing client.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{client: client, dedupTTL: DefaultDedupTTL}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// GetConversation loads the tenant-scoped state. When only a legacy sender-keyed record
// exists it is moved to the tenant key (keeping its remaining TTL) and returned.
func (s *RedisStore) GetConversation(ctx context.Context, tenantID, senderID string) (*models.ConversationState, error) {
	key := ConversationKey(tenantID, senderID)
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, backend.Nil) {
		return s.migrateLegacy(ctx, tenantID, senderID)
	}
	if err != nil {
		slog.Error("RedisStore GetConversation failed", "error", err, "tenantID", tenantID, "senderID", senderID)
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	var state models.ConversationState
	if err := state.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("failed to decode conversation: %w", err)
	}
	return &state, nil
}

func (s *RedisStore) migrateLegacy(ctx context.Context, tenantID, senderID string) (*models.ConversationState, error) {
	legacy := LegacyConversationKey(senderID)
	data, err := s.client.Get(ctx, legacy).Bytes()
	if errors.Is(err, backend.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load legacy conversation: %w", err)
	}
	var state models.ConversationState
	if err := state.UnmarshalJSON(data); err != nil {
		return nil, fmt.Errorf("failed to decode legacy conversation: %w", err)
	}
	if state.TenantID == "" {
		state.TenantID = tenantID
	}
	if state.SenderID == "" {
		state.SenderID = senderID
	}

	ttl, err := s.client.TTL(ctx, legacy).Result()
	if err != nil || ttl < 0 {
		ttl = 0
	}
	payload, err := state.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode migrated conversation: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, ConversationKey(tenantID, senderID), payload, ttl)
	pipe.Del(ctx, legacy)
	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("RedisStore legacy conversation migration failed", "error", err, "senderID", senderID)
	} else {
		slog.Info("RedisStore migrated legacy conversation key", "tenantID", tenantID, "senderID", senderID)
	}
	return &state, nil
}

// SetConversation stores state with the given TTL (0 keeps it forever).
func (s *RedisStore) SetConversation(ctx context.Context, tenantID, senderID string, state *models.ConversationState, ttl time.Duration) error {
	payload, err := state.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode conversation: %w", err)
	}
	if ttl < 0 {
		ttl = 0
	}
	if err := s.client.Set(ctx, ConversationKey(tenantID, senderID), payload, ttl).Err(); err != nil {
		slog.Error("RedisStore SetConversation failed", "error", err, "tenantID", tenantID, "senderID", senderID)
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	return nil
}

// ClearConversation removes both the tenant-scoped and the legacy key.
func (s *RedisStore) ClearConversation(ctx context.Context, tenantID, senderID string) error {
	if err := s.client.Del(ctx, ConversationKey(tenantID, senderID), LegacyConversationKey(senderID)).Err(); err != nil {
		return fmt.Errorf("failed to clear conversation: %w", err)
	}
	return nil
}

// DedupKey is the Redis key remembering one inbound message of a tenant.
func DedupKey(tenantID, messageID string) string {
	return dedupKeyPrefix + dedupKey(tenantID, messageID)
}

// IsDuplicate checks if the tenant already recorded the message.
func (s *RedisStore) IsDuplicate(tenantID, messageID string) (bool, error) {
	n, err := s.client.Exists(context.Background(), DedupKey(tenantID, messageID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return n > 0, nil
}

// RecordInbound records the message with SET NX; false means it was already recorded.
func (s *RedisStore) RecordInbound(tenantID, messageID, senderID string) (bool, error) {
	ok, err := s.client.SetNX(context.Background(), DedupKey(tenantID, messageID), senderID, s.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("record inbound failed: %w", err)
	}
	return ok, nil
}

// MarkProcessed restarts the dedup window from the end of the turn.
func (s *RedisStore) MarkProcessed(tenantID, messageID string) error {
	if err := s.client.Expire(context.Background(), DedupKey(tenantID, messageID), s.dedupTTL).Err(); err != nil {
		return fmt.Errorf("mark processed failed: %w", err)
	}
	return nil
}
