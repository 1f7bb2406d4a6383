package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/punchamoorthee/tradeguard/internal/domain"
	"github.com/punchamoorthee/tradeguard/internal/store"
)

// RequestHash fingerprints a request payload so a reused key with a
// different body is detected.
func RequestHash(req any) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("hash request: %w", err)
	}
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:]), nil
}

// idempotent runs fn at most once per (scope, key) and replays the stored
// response afterwards. It must be called inside the transaction that
// performs fn's writes so the response and the effects commit together.
// An empty key disables the check.
func idempotent[T any](ctx context.Context, tx store.Tx, scope, key string, req any, now time.Time, fn func() (T, error)) (T, error) {
	var zero T
	if key == "" {
		return fn()
	}

	reqHash, err := RequestHash(req)
	if err != nil {
		return zero, err
	}

	// Concurrent requests with the same key queue here until the first
	// one commits, then observe its record.
	if err := tx.LockKey(ctx, "idem:"+scope+":"+key); err != nil {
		return zero, fmt.Errorf("idempotency lock failed: %w", err)
	}

	rec, err := tx.GetIdempotency(ctx, scope, key)
	switch {
	case err == nil:
		if rec.RequestHash != reqHash {
			return zero, domain.ErrIdempotencyMismatch
		}
		var out T
		if err := json.Unmarshal(rec.ResponseBody, &out); err != nil {
			return zero, fmt.Errorf("decode stored response: %w", err)
		}
		return out, nil
	case !errors.Is(err, store.ErrNotFound):
		return zero, fmt.Errorf("idempotency query failed: %w", err)
	}

	out, err := fn()
	if err != nil {
		return zero, err
	}

	body, err := json.Marshal(out)
	if err != nil {
		return zero, err
	}
	if err := tx.PutIdempotency(ctx, &domain.IdempotencyRecord{
		Key:          key,
		Scope:        scope,
		RequestHash:  reqHash,
		ResponseBody: body,
		CreatedAt:    now,
	}); err != nil {
		return zero, fmt.Errorf("idempotency insert failed: %w", err)
	}
	return out, nil
}
