package presence

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/smartline-dispatch/internal/models"
)

// RedisStore implements Store using Redis GEO commands plus a per-driver
// TTL key as the online marker and a hash for cached metadata.
type RedisStore struct {
	client *redis.Client
	geoKey string
	logger *slog.Logger
}

func NewRedisStore(client *redis.Client, geoKey string, logger *slog.Logger) *RedisStore {
	if geoKey == "" {
		geoKey = "drivers:geo"
	}
	return &RedisStore{client: client, geoKey: geoKey, logger: logger}
}

func metaKey(id string) string   { return "drivers:meta:" + id }
func onlineKey(id string) string { return "drivers:online:" + id }

func (r *RedisStore) Upsert(ctx context.Context, pos models.DriverPosition, ttl time.Duration) bool {
	if ttl <= 0 {
		ttl = DefaultOnlineTTL
	}
	pipe := r.client.Pipeline()
	pipe.GeoAdd(ctx, r.geoKey, &redis.GeoLocation{Longitude: pos.Lng, Latitude: pos.Lat, Name: pos.DriverID})
	pipe.HSet(ctx, metaKey(pos.DriverID), map[string]interface{}{
		"heading":     strconv.FormatFloat(pos.Heading, 'f', -1, 64),
		"speed":       strconv.FormatFloat(pos.Speed, 'f', -1, 64),
		"accuracy":    strconv.FormatFloat(pos.Accuracy, 'f', -1, 64),
		"captured_at": pos.CapturedAt.UTC().Format(time.RFC3339),
	})
	pipe.Set(ctx, onlineKey(pos.DriverID), "1", ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("presence upsert degraded", "driver_id", pos.DriverID, "error", err)
		return false
	}
	return true
}

func (r *RedisStore) QueryNearby(ctx context.Context, lat, lng, radiusKm float64, limit int) []Candidate {
	if limit <= 0 {
		limit = 10
	}
	// over-fetch: some indexed members will turn out to be offline
	res, err := r.client.GeoRadius(ctx, r.geoKey, lng, lat, &redis.GeoRadiusQuery{
		Radius:    radiusKm,
		Unit:      "km",
		WithCoord: true,
		WithDist:  true,
		Count:     limit * 3,
		Sort:      "ASC",
	}).Result()
	if err != nil {
		r.logger.Warn("presence query degraded", "error", err)
		return nil
	}
	if len(res) == 0 {
		return nil
	}

	pipe := r.client.Pipeline()
	alive := make([]*redis.IntCmd, len(res))
	for i, g := range res {
		alive[i] = pipe.Exists(ctx, onlineKey(g.Name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("presence online check degraded", "error", err)
		return nil
	}

	out := make([]Candidate, 0, limit)
	var lapsed []string
	for i, g := range res {
		if alive[i].Val() == 0 {
			lapsed = append(lapsed, g.Name)
			continue
		}
		if len(out) >= limit {
			continue
		}
		c := Candidate{DistanceKm: g.Dist}
		c.DriverID = g.Name
		c.Lat = g.Latitude
		c.Lng = g.Longitude
		if m, err := r.client.HGetAll(ctx, metaKey(g.Name)).Result(); err == nil {
			fillMeta(&c.DriverPosition, m)
		}
		out = append(out, c)
	}
	if len(lapsed) > 0 {
		go r.purge(lapsed)
	}
	return out
}

// purge removes lapsed members from the geo index off the request path.
func (r *RedisStore) purge(ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}
	if err := r.client.ZRem(ctx, r.geoKey, members...).Err(); err != nil {
		r.logger.Warn("presence purge failed", "count", len(ids), "error", err)
	}
}

func (r *RedisStore) Remove(ctx context.Context, driverID string) bool {
	pipe := r.client.Pipeline()
	pipe.ZRem(ctx, r.geoKey, driverID)
	pipe.Del(ctx, metaKey(driverID), onlineKey(driverID))
	if _, err := pipe.Exec(ctx); err != nil {
		r.logger.Warn("presence remove degraded", "driver_id", driverID, "error", err)
		return false
	}
	return true
}

func (r *RedisStore) Position(ctx context.Context, driverID string) (models.DriverPosition, bool) {
	res, err := r.client.GeoPos(ctx, r.geoKey, driverID).Result()
	if err != nil || len(res) == 0 || res[0] == nil {
		return models.DriverPosition{}, false
	}
	pos := models.DriverPosition{DriverID: driverID, Lat: res[0].Latitude, Lng: res[0].Longitude}
	if m, err := r.client.HGetAll(ctx, metaKey(driverID)).Result(); err == nil {
		fillMeta(&pos, m)
	}
	return pos, true
}

func (r *RedisStore) OnlineIDs(ctx context.Context) []string {
	var (
		ids    []string
		cursor uint64
	)
	for {
		keys, next, err := r.client.Scan(ctx, cursor, onlineKey("*"), 200).Result()
		if err != nil {
			r.logger.Warn("presence scan degraded", "error", err)
			return nil
		}
		for _, k := range keys {
			ids = append(ids, strings.TrimPrefix(k, onlineKey("")))
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return ids
}

func fillMeta(pos *models.DriverPosition, m map[string]string) {
	if v, ok := m["heading"]; ok {
		pos.Heading, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := m["speed"]; ok {
		pos.Speed, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := m["accuracy"]; ok {
		pos.Accuracy, _ = strconv.ParseFloat(v, 64)
	}
	if v, ok := m["captured_at"]; ok {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			pos.CapturedAt = t
		}
	}
}
