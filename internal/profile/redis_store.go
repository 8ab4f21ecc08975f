package profile

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"pidash/internal/constants"
	"pidash/internal/types"
)

const (
	profileKeyPrefix = constants.RedisKeyPrefix + "profile:"
	activeKey        = constants.RedisKeyPrefix + "active"
)

// RedisStore persists profiles in Redis. Unlike caches, profiles are durable:
// no key carries a TTL.
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
	cancel func()
}

func NewRedisStore(host, port, username, password string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     host + ":" + port,
		Username: username,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithCancel(context.Background())
	store := &RedisStore{client: client, ctx: ctx, cancel: cancel}

	if err := client.Ping(ctx).Err(); err != nil {
		cancel()
		return nil, err
	}
	return store, nil
}

func (st *RedisStore) readRecord(id string) (*record, error) {
	data, err := st.client.Get(st.ctx, profileKeyPrefix+id).Result()
	if err == redis.Nil {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}
	var rec record
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (st *RedisStore) writeRecord(id string, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return st.client.Set(st.ctx, profileKeyPrefix+id, data, 0).Err()
}

func (st *RedisStore) SaveProfile(p *Profile) error {
	rec, err := st.readRecord(p.ID)
	switch {
	case err == nil:
	case errors.Is(err, types.ErrNotFound):
		rec = &record{}
	default:
		return err
	}
	rec.Profile = p
	return st.writeRecord(p.ID, rec)
}

func (st *RedisStore) GetProfile(id string) (*Profile, error) {
	rec, err := st.readRecord(id)
	if err != nil {
		return nil, err
	}
	if rec.Profile == nil {
		return nil, notFound(id)
	}
	return rec.Profile, nil
}

func (st *RedisStore) ListProfiles() ([]*Profile, error) {
	var profiles []*Profile
	iter := st.client.Scan(st.ctx, 0, profileKeyPrefix+"*", 100).Iterator()
	for iter.Next(st.ctx) {
		id := iter.Val()[len(profileKeyPrefix):]
		rec, err := st.readRecord(id)
		if err != nil || rec.Profile == nil {
			continue
		}
		profiles = append(profiles, rec.Profile)
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	return profiles, nil
}

func (st *RedisStore) DeleteProfile(id string) error {
	n, err := st.client.Del(st.ctx, profileKeyPrefix+id).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(id)
	}
	if active, _ := st.GetActive(); active == id {
		st.client.Del(st.ctx, activeKey)
	}
	return nil
}

func (st *RedisStore) SaveToken(profileID string, b *TokenBundle) error {
	rec, err := st.readRecord(profileID)
	if err != nil {
		return err
	}
	rec.Token = b
	return st.writeRecord(profileID, rec)
}

func (st *RedisStore) LoadToken(profileID string) (*TokenBundle, error) {
	rec, err := st.readRecord(profileID)
	if err != nil {
		return nil, err
	}
	if rec.Token == nil {
		return nil, types.Err(types.ErrNotFound, nil, "no token for profile %s", profileID)
	}
	return rec.Token, nil
}

func (st *RedisStore) DeleteToken(profileID string) error {
	rec, err := st.readRecord(profileID)
	if err != nil {
		return err
	}
	rec.Token = nil
	return st.writeRecord(profileID, rec)
}

func (st *RedisStore) GetActive() (string, error) {
	id, err := st.client.Get(st.ctx, activeKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return id, nil
}

func (st *RedisStore) SetActive(id string) error {
	if _, err := st.readRecord(id); err != nil {
		return err
	}
	return st.client.Set(st.ctx, activeKey, id, 0).Err()
}

func (st *RedisStore) Close() error {
	st.cancel()
	return st.client.Close()
}
