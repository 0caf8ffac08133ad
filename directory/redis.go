package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rbaliyan/playermail"
	"github.com/redis/go-redis/v9"
)

var (
	_ playermail.History         = (*Redis)(nil)
	_ playermail.HistoryRecorder = (*Redis)(nil)
)

// DefaultRedisPrefix namespaces the directory keys.
const DefaultRedisPrefix = "playermail:directory"

// Redis keeps the player history in two Redis hashes shared by every
// server on the network: <prefix>:players maps id to a JSON record and
// <prefix>:names maps a lower-case name to an id.
type Redis struct {
	client  redis.UniversalClient
	players string
	names   string
}

// RedisOption configures a Redis directory.
type RedisOption func(*Redis)

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) {
		if prefix != "" {
			r.players = prefix + ":players"
			r.names = prefix + ":names"
		}
	}
}

// NewRedis creates a Redis-backed history.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{client: client}
	WithRedisPrefix(DefaultRedisPrefix)(r)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// record is the stored form of a player.
type record struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	LastSeen int64  `json:"last_seen,omitempty"` // unix millis
}

func toRecord(p playermail.Player) record {
	r := record{ID: p.ID, Name: p.Name, Email: p.Email}
	if !p.LastSeen.IsZero() {
		r.LastSeen = p.LastSeen.UnixMilli()
	}
	return r
}

func (r record) player() playermail.Player {
	p := playermail.Player{ID: r.ID, Name: r.Name, Email: r.Email}
	if r.LastSeen != 0 {
		p.LastSeen = time.UnixMilli(r.LastSeen).UTC()
	}
	return p
}

func (d *Redis) Lookup(ctx context.Context, name string) (playermail.Player, error) {
	id, err := d.client.HGet(ctx, d.names, strings.ToLower(name)).Result()
	if errors.Is(err, redis.Nil) {
		return playermail.Player{}, fmt.Errorf("%w: %s", playermail.ErrPlayerNotFound, name)
	}
	if err != nil {
		return playermail.Player{}, fmt.Errorf("directory: lookup %s: %w", name, err)
	}
	p, err := d.get(ctx, id)
	if errors.Is(err, redis.Nil) {
		return playermail.Player{}, fmt.Errorf("%w: %s", playermail.ErrPlayerNotFound, name)
	}
	return p, err
}

func (d *Redis) get(ctx context.Context, id string) (playermail.Player, error) {
	raw, err := d.client.HGet(ctx, d.players, id).Bytes()
	if err != nil {
		return playermail.Player{}, err
	}
	var rec record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return playermail.Player{}, fmt.Errorf("directory: decode %s: %w", id, err)
	}
	return rec.player(), nil
}

func (d *Redis) All(ctx context.Context) ([]playermail.Player, error) {
	all, err := d.client.HGetAll(ctx, d.players).Result()
	if err != nil {
		return nil, fmt.Errorf("directory: list players: %w", err)
	}
	out := make([]playermail.Player, 0, len(all))
	for id, raw := range all {
		var rec record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("directory: decode %s: %w", id, err)
		}
		out = append(out, rec.player())
	}
	return out, nil
}

// Remember stores p and points its current name at it. The old name is
// released when it still points at this player.
func (d *Redis) Remember(ctx context.Context, p playermail.Player) error {
	if p.ID == "" || p.Name == "" {
		return playermail.ErrInvalidRequest
	}

	old, err := d.get(ctx, p.ID)
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return fmt.Errorf("directory: load %s: %w", p.ID, err)
	default:
		if p.Email == "" {
			p.Email = old.Email
		}
	}

	raw, err := json.Marshal(toRecord(p))
	if err != nil {
		return fmt.Errorf("directory: encode %s: %w", p.ID, err)
	}

	release := ""
	if old.Name != "" && !strings.EqualFold(old.Name, p.Name) {
		owner, err := d.client.HGet(ctx, d.names, strings.ToLower(old.Name)).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return fmt.Errorf("directory: load name %s: %w", old.Name, err)
		}
		if owner == p.ID {
			release = strings.ToLower(old.Name)
		}
	}

	_, err = d.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if release != "" {
			pipe.HDel(ctx, d.names, release)
		}
		pipe.HSet(ctx, d.players, p.ID, raw)
		pipe.HSet(ctx, d.names, strings.ToLower(p.Name), p.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("directory: remember %s: %w", p.ID, err)
	}
	return nil
}
