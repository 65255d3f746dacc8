package engine

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"uptimeline/internal/domain"
	"uptimeline/internal/repo"
)

const apiKeyPrefix = "ul_"

// CreateAPIKey issues a key for actorID. The plaintext secret is returned once;
// only its hash is stored.
func (e Engine) CreateAPIKey(ctx context.Context, actorID, name string) (domain.APIKey, string, error) {
	actorID, err := requireCaller(actorID)
	if err != nil {
		return domain.APIKey{}, "", err
	}
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return domain.APIKey{}, "", fmt.Errorf("generate api key: %w", err)
	}
	secret := apiKeyPrefix + hex.EncodeToString(buf)
	key := domain.APIKey{
		ID:        uuid.NewString(),
		ActorID:   actorID,
		Name:      strings.TrimSpace(name),
		KeyHash:   repo.HashAPIKey(secret),
		CreatedAt: e.stamp(),
	}
	err = e.write(ctx, "apikey.create", nil, func(ctx context.Context, tx *sql.Tx) error {
		return e.Repo.InsertAPIKey(ctx, tx, key)
	})
	if err != nil {
		return domain.APIKey{}, "", err
	}
	return key, secret, nil
}

func (e Engine) ListAPIKeys(ctx context.Context, actorID string) ([]domain.APIKey, error) {
	return e.Repo.ListAPIKeys(ctx, actorID)
}

// RevokeAPIKey deletes a key. A non-empty caller may only revoke its own keys.
func (e Engine) RevokeAPIKey(ctx context.Context, id, caller string) error {
	keys, err := e.Repo.ListAPIKeys(ctx, caller)
	if err != nil {
		return err
	}
	found := false
	for _, k := range keys {
		if k.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("api key %s: %w", id, repo.ErrNotFound)
	}
	return e.Repo.DeleteAPIKey(ctx, id)
}
