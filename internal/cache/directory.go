// Package cache fronts the staff directory with Redis so reminder creation
// does not hit the database for every lookup.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"fieldreport/internal/reminder"
	logx "fieldreport/pkg/logx"
)

const keyPrefix = "staff:chat:"

// Directory caches reminder.Directory lookups, including misses, for ttl.
// Redis errors fall through to the backing directory.
type Directory struct {
	rdb  *redis.Client
	next reminder.Directory
	ttl  time.Duration
	log  logx.Logger
}

type entry struct {
	ChatID   string    `json:"chatId,omitempty"`
	Found    bool      `json:"found"`
	CachedAt time.Time `json:"cachedAt"`
}

func NewDirectory(rdb *redis.Client, next reminder.Directory, ttl time.Duration, log logx.Logger) *Directory {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Directory{rdb: rdb, next: next, ttl: ttl, log: log.With(logx.String("comp", "cache.directory"))}
}

func key(staffName string) string {
	return keyPrefix + strings.ToLower(strings.TrimSpace(staffName))
}

func (d *Directory) Lookup(ctx context.Context, staffName string) (string, bool, error) {
	k := key(staffName)
	raw, err := d.rdb.Get(ctx, k).Bytes()
	switch {
	case err == nil:
		var e entry
		if jerr := json.Unmarshal(raw, &e); jerr == nil {
			return e.ChatID, e.Found, nil
		}
		d.log.Warn("dropping malformed cache entry", logx.String("key", k))
	case !errors.Is(err, redis.Nil):
		d.log.Warn("redis get failed; using backing directory", logx.Err(err))
	}

	chatID, found, err := d.next.Lookup(ctx, staffName)
	if err != nil {
		return "", false, err
	}
	b, err := json.Marshal(entry{ChatID: chatID, Found: found, CachedAt: time.Now().UTC()})
	if err == nil {
		if serr := d.rdb.Set(ctx, k, b, d.ttl).Err(); serr != nil {
			d.log.Warn("redis set failed", logx.Err(serr))
		}
	}
	return chatID, found, nil
}

// Invalidate implements reminder.Invalidator.
func (d *Directory) Invalidate(ctx context.Context, staffName string) error {
	return d.rdb.Del(ctx, key(staffName)).Err()
}

// Open connects to addr and verifies it with PING.
func Open(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return rdb, nil
}
