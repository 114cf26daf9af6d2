package main

import (
	"context"
	"fmt"
	"time"

	"github.com/puyokura/nchat/logger"
	"github.com/puyokura/nchat/model"
	"github.com/redis/go-redis/v9"
)

const (
	defaultPresenceKey = "nchat:members"
	presenceBuffer     = 256
	presenceTimeout    = 2 * time.Second
)

// SetStore is the part of a redis client presence needs.
type SetStore interface {
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	SAdd(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	SRem(ctx context.Context, key string, members ...interface{}) *redis.IntCmd
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	HDel(ctx context.Context, key string, fields ...string) *redis.IntCmd
}

type presenceUpdate struct {
	member model.Member
	joined bool
}

// Presence mirrors the member set into a redis set (endpoints) and hash
// (endpoint -> nickname) so other tools can see who is online. Updates are
// queued and written from Run, never from the engine loop.
type Presence struct {
	store   SetStore
	key     string
	updates chan presenceUpdate
	log     *logger.Logger
}

// DialPresence connects to redis and clears whatever a previous server
// left under key.
func DialPresence(ctx context.Context, url, key string, log *logger.Logger) (*Presence, func(), error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	p := NewPresence(client, key, log)
	if err := p.reset(ctx); err != nil {
		client.Close()
		return nil, nil, err
	}
	return p, func() { client.Close() }, nil
}

func NewPresence(store SetStore, key string, log *logger.Logger) *Presence {
	if key == "" {
		key = defaultPresenceKey
	}
	return &Presence{
		store:   store,
		key:     key,
		updates: make(chan presenceUpdate, presenceBuffer),
		log:     log,
	}
}

func (p *Presence) nicknameKey() string {
	return p.key + ":nicknames"
}

func (p *Presence) reset(ctx context.Context) error {
	if err := p.store.Del(ctx, p.key, p.nicknameKey()).Err(); err != nil {
		return fmt.Errorf("failed to clear presence: %w", err)
	}
	return nil
}

func (p *Presence) Relayed(model.Message, int) {}

func (p *Presence) Joined(member model.Member) {
	p.enqueue(presenceUpdate{member: member, joined: true})
}

func (p *Presence) Left(member model.Member) {
	p.enqueue(presenceUpdate{member: member})
}

func (p *Presence) enqueue(u presenceUpdate) {
	select {
	case p.updates <- u:
	default:
		p.log.Warnf("presence queue full, dropping update for %s", u.member.Address)
	}
}

// Run writes queued updates until ctx is done.
func (p *Presence) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-p.updates:
			if err := p.apply(ctx, u); err != nil {
				p.log.WithError(err).Warn("presence update failed")
			}
		}
	}
}

func (p *Presence) apply(ctx context.Context, u presenceUpdate) error {
	ctx, cancel := context.WithTimeout(ctx, presenceTimeout)
	defer cancel()

	addr := u.member.Address.String()
	if u.joined {
		if err := p.store.SAdd(ctx, p.key, addr).Err(); err != nil {
			return err
		}
		return p.store.HSet(ctx, p.nicknameKey(), addr, u.member.Nickname).Err()
	}
	if err := p.store.SRem(ctx, p.key, addr).Err(); err != nil {
		return err
	}
	return p.store.HDel(ctx, p.nicknameKey(), addr).Err()
}
