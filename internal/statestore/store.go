// Package statestore implements the warm, TTL'd per-user key-value store
// described in §3.3 and §4.1: recent transaction times, recent amount
// history, device/IP first-seen maps, and last known location. It is
// backed by Redis, generalizing the CacheClient wrapper this codebase's
// Redis Streams worker already used for ad-hoc caching into the typed
// operation set the scoring pipeline needs.
package statestore

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/enterprise/fraud-pipeline/internal/domain"
)

const (
	txTimeWindow   = 24 * time.Hour
	txTimeTTL      = 48 * time.Hour
	amountTTL      = 90 * 24 * time.Hour
	firstSeenTTL   = 90 * 24 * time.Hour
	lastLocTTL     = 30 * 24 * time.Hour
)

// Store is the Redis-backed implementation of the State Store Client.
type Store struct {
	client *redis.Client
}

// New wraps an existing go-redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// NewFromURL parses a redis:// URL and connects, mirroring the
// connection style of this codebase's other Redis client constructors.
func NewFromURL(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return New(client), nil
}

func txTimesKey(userID string) string { return "user:" + userID + ":txtimes" }
func amountsKey(userID string) string { return "user:" + userID + ":amounts" }
func devicesKey(userID string) string { return "user:" + userID + ":devices" }
func ipsKey(userID string) string     { return "user:" + userID + ":ips" }
func locationKey(userID string) string { return "user:" + userID + ":location" }

// RecordTxTime inserts ts into the user's rolling tx-time window and
// trims entries older than 24h (§4.1). Best-effort: failures are logged,
// never returned as a pipeline-fatal error.
func (s *Store) RecordTxTime(ctx context.Context, userID string, ts time.Time) {
	key := txTimesKey(userID)
	member := strconv.FormatInt(ts.UnixNano(), 10)
	score := float64(ts.Unix())

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: score, Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(ts.Add(-txTimeWindow).Unix(), 10))
	pipe.Expire(ctx, key, txTimeTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("state store: record tx time failed")
	}
}

// RecentCount returns the number of tx-time entries in [now-windowSec, now].
// On transport failure it degrades to 0, per §4.1 failure semantics.
func (s *Store) RecentCount(ctx context.Context, userID string, now time.Time, windowSec int64) int64 {
	key := txTimesKey(userID)
	min := strconv.FormatInt(now.Unix()-windowSec, 10)
	max := strconv.FormatInt(now.Unix(), 10)

	count, err := s.client.ZCount(ctx, key, min, max).Result()
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("state store: recent count failed")
		return 0
	}
	return count
}

// RecordAmount prepends amount to the user's amount history and
// truncates to maxSize most recent entries (§4.1).
func (s *Store) RecordAmount(ctx context.Context, userID string, amount float64, maxSize int) {
	key := amountsKey(userID)

	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, formatAmount(amount))
	pipe.LTrim(ctx, key, 0, int64(maxSize)-1)
	pipe.Expire(ctx, key, amountTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("state store: record amount failed")
	}
}

// MedianAmount returns the median of the stored amount history, or 0 if
// empty. Even counts use the mean of the two centrals. Unparseable
// entries are treated as 0 rather than failing the read (§4.1).
func (s *Store) MedianAmount(ctx context.Context, userID string) float64 {
	key := amountsKey(userID)

	raw, err := s.client.LRange(ctx, key, 0, -1).Result()
	if err != nil || len(raw) == 0 {
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("state store: median amount failed")
		}
		return 0
	}

	amounts := make([]float64, 0, len(raw))
	for _, r := range raw {
		v, err := strconv.ParseFloat(r, 64)
		if err != nil {
			v = 0
		}
		amounts = append(amounts, v)
	}

	sort.Float64s(amounts)
	n := len(amounts)
	if n%2 == 1 {
		return amounts[n/2]
	}
	return (amounts[n/2-1] + amounts[n/2]) / 2
}

// ObserveDevice records a device observation for userID at ts. It
// returns true iff this is the first time the device has been seen for
// this user; a pre-existing first-seen timestamp is never overwritten
// (§3.3, §4.1). The freshness TTL is refreshed on every call regardless.
func (s *Store) ObserveDevice(ctx context.Context, userID, deviceID string, ts time.Time) bool {
	return s.observeFirstSeen(ctx, devicesKey(userID), deviceID, ts)
}

// DeviceIsUnseen peeks whether deviceID has no first-seen entry yet for
// userID, without recording anything. It must run before ObserveDevice
// so a brand-new device is caught before the write in step 5 creates
// its first-seen timestamp (§4.2's "first observation" disjunct).
func (s *Store) DeviceIsUnseen(ctx context.Context, userID, deviceID string) bool {
	return s.isUnseen(ctx, devicesKey(userID), deviceID)
}

// DeviceFirstSeenWithin reports whether deviceID's first-seen timestamp
// for userID is at most `days` old.
func (s *Store) DeviceFirstSeenWithin(ctx context.Context, userID, deviceID string, now time.Time, days int) bool {
	return s.firstSeenWithin(ctx, devicesKey(userID), deviceID, now, days)
}

// ObserveIP, IPIsUnseen, and IPFirstSeenWithin are the IP analogues of
// the device operations above.
func (s *Store) ObserveIP(ctx context.Context, userID, ip string, ts time.Time) bool {
	return s.observeFirstSeen(ctx, ipsKey(userID), ip, ts)
}

func (s *Store) IPIsUnseen(ctx context.Context, userID, ip string) bool {
	return s.isUnseen(ctx, ipsKey(userID), ip)
}

func (s *Store) IPFirstSeenWithin(ctx context.Context, userID, ip string, now time.Time, days int) bool {
	return s.firstSeenWithin(ctx, ipsKey(userID), ip, now, days)
}

func (s *Store) isUnseen(ctx context.Context, key, field string) bool {
	exists, err := s.client.HExists(ctx, key, field).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("state store: first-seen existence check failed")
		return false
	}
	return !exists
}

func (s *Store) observeFirstSeen(ctx context.Context, key, field string, ts time.Time) bool {
	isNew, err := s.client.HSetNX(ctx, key, field, ts.Unix()).Result()
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("state store: observe first-seen failed")
		return false
	}
	if err := s.client.Expire(ctx, key, firstSeenTTL).Err(); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("state store: refresh first-seen ttl failed")
	}
	return isNew
}

func (s *Store) firstSeenWithin(ctx context.Context, key, field string, now time.Time, days int) bool {
	raw, err := s.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("state store: first-seen lookup failed")
		return false
	}

	firstSeen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return false
	}

	age := now.Unix() - firstSeen
	return age <= int64(days)*24*3600
}

// GetLastLocation returns the user's last recorded location, or nil if
// none is on record or the read fails (§4.1).
func (s *Store) GetLastLocation(ctx context.Context, userID string) *domain.LocationRecord {
	key := locationKey(userID)

	vals, err := s.client.HGetAll(ctx, key).Result()
	if err != nil || len(vals) == 0 {
		if err != nil {
			log.Warn().Err(err).Str("user_id", userID).Msg("state store: get last location failed")
		}
		return nil
	}

	lat, errLat := strconv.ParseFloat(vals["lat"], 64)
	lon, errLon := strconv.ParseFloat(vals["lon"], 64)
	ts, errTs := strconv.ParseInt(vals["ts"], 10, 64)
	if errLat != nil || errLon != nil || errTs != nil {
		return nil
	}

	return &domain.LocationRecord{Lat: lat, Lon: lon, Ts: ts}
}

// SetLastLocation unconditionally overwrites the user's last known
// location (§4.1).
func (s *Store) SetLastLocation(ctx context.Context, userID string, lat, lon float64, ts time.Time) {
	key := locationKey(userID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"lat": formatAmount(lat),
		"lon": formatAmount(lon),
		"ts":  ts.Unix(),
	})
	pipe.Expire(ctx, key, lastLocTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("state store: set last location failed")
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
