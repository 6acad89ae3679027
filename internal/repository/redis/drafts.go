package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/kirinyoku/joynous/internal/domain"
	"github.com/kirinyoku/joynous/internal/regform"
	"github.com/kirinyoku/joynous/internal/repository"
)

// DraftStore keeps in-progress registration flows between requests.
type DraftStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDraftStore(rdb *redis.Client, ttl time.Duration) *DraftStore {
	return &DraftStore{rdb: rdb, ttl: ttl}
}

func (s *DraftStore) Save(ctx context.Context, f *regform.Flow) error {
	const op = "redis.DraftStore.Save"

	b, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.rdb.Set(ctx, KeyDraft(f.ID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// Load returns repository.ErrNotFound once a draft has expired.
func (s *DraftStore) Load(ctx context.Context, id uuid.UUID) (*regform.Flow, error) {
	const op = "redis.DraftStore.Load"

	b, err := s.rdb.Get(ctx, KeyDraft(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%s:%w", op, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	var f regform.Flow
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("%s:%w", op, err)
	}

	return &f, nil
}

const maxDraftUpdates = 5

// Update applies fn to the stored draft and writes the result back only if
// no one else wrote the draft meanwhile. On a concurrent write fn runs again
// on the newer draft.
//
// Parameters:
//   - ctx: request-scoped context.
//   - id: draft ID.
//   - fn: the change; an error aborts without writing.
//
// Returns:
//   - *regform.Flow: the draft as written.
//   - error: repository.ErrNotFound once the draft has expired,
//     repository.ErrConflict if it kept changing, or the error of fn.
func (s *DraftStore) Update(ctx context.Context, id uuid.UUID, fn func(f *regform.Flow) error) (*regform.Flow, error) {
	const op = "redis.DraftStore.Update"

	key := KeyDraft(id)

	var out *regform.Flow
	txf := func(tx *redis.Tx) error {
		b, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return repository.ErrNotFound
		}
		if err != nil {
			return err
		}

		var f regform.Flow
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}

		if err := fn(&f); err != nil {
			return err
		}

		nb, err := json.Marshal(&f)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, nb, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}

		out = &f
		return nil
	}

	for range maxDraftUpdates {
		err := s.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%s:%w", op, err)
		}
		return out, nil
	}

	return nil, fmt.Errorf("%s:%w", op, repository.ErrConflict)
}

// ProfileStore remembers contact details per client so the next
// registration can be prefilled.
type ProfileStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewProfileStore(rdb *redis.Client, ttl time.Duration) *ProfileStore {
	return &ProfileStore{rdb: rdb, ttl: ttl}
}

func (s *ProfileStore) Save(ctx context.Context, clientID string, c domain.Contact) error {
	const op = "redis.ProfileStore.Save"

	b, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	if err := s.rdb.Set(ctx, KeyProfile(clientID), b, s.ttl).Err(); err != nil {
		return fmt.Errorf("%s:%w", op, err)
	}

	return nil
}

// Load reports false when nothing is remembered for the client.
func (s *ProfileStore) Load(ctx context.Context, clientID string) (domain.Contact, bool, error) {
	const op = "redis.ProfileStore.Load"

	b, err := s.rdb.Get(ctx, KeyProfile(clientID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.Contact{}, false, nil
	}
	if err != nil {
		return domain.Contact{}, false, fmt.Errorf("%s:%w", op, err)
	}

	var c domain.Contact
	if err := json.Unmarshal(b, &c); err != nil {
		return domain.Contact{}, false, fmt.Errorf("%s:%w", op, err)
	}

	return c, true, nil
}
