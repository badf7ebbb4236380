// Package fleet is the write-only client to the external shared
// key/value store that publishes per-invoker liveness signals for
// consumption by a controller-side load balancer. It also
// exposes the matching read ops the balancer would use, as a boundary
// contract only — no balancer is implemented in this module.
package fleet

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/beam-cloud/beta9-preloader/pkg/config"
	"github.com/beam-cloud/beta9-preloader/pkg/coreerrors"
)

const (
	invokerIDHash       = "beta9:invoker_id"
	preLoadedActionHash = "beta9:preloaded_action"
	busyPoolSizeHash    = "beta9:busy_pool_size"
	lastSeenHash        = "beta9:invoker_last_seen"
)

// Client wraps go-redis for both the write side (Publisher) and the
// read side (Reader) of the fleet-state store.
type Client struct {
	rdb *redis.Client
}

// NewClient dials Redis using the pool sizes and timeout sourced from
// config.RedisConfig.
func NewClient(cfg config.RedisConfig) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr(),
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.DialTimeout,
	})
	return &Client{rdb: rdb}
}

// Close releases the underlying Redis connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Publisher writes the three fleet-state hashes. Writes are
// best-effort: errors are retried a few times with backoff, then logged
// and swallowed, never propagated to callers.
type Publisher struct {
	client    *Client
	invokerID string
}

// NewPublisher builds a Publisher tagged with this invoker's identity.
func NewPublisher(client *Client, invokerID string) *Publisher {
	return &Publisher{client: client, invokerID: invokerID}
}

func (p *Publisher) publishWithRetry(ctx context.Context, op string, fn func() error) {
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(50*time.Millisecond), 3), ctx)
	err := backoff.Retry(fn, b)
	if err != nil {
		err = &coreerrors.FleetStoreError{Op: op, Reason: err.Error()}
		log.Error().Err(err).Str("invokerId", p.invokerID).Msg("fleet-state publish failed")
	}
}

// PublishHostIP writes hash "invokerId": hostIP -> invokerIdString.
func (p *Publisher) PublishHostIP(ctx context.Context, hostIP string) {
	p.publishWithRetry(ctx, "publish_host_ip", func() error {
		return p.client.rdb.HSet(ctx, invokerIDHash, hostIP, p.invokerID).Err()
	})
}

// PublishPreLoadedActions writes hash "preLoadedAction": invokerId ->
// comma-separated distinct action names currently in the pre-load table.
func (p *Publisher) PublishPreLoadedActions(ctx context.Context, actionNames []string) {
	unique := dedupeSorted(actionNames)
	value := strings.Join(unique, ",")
	p.publishWithRetry(ctx, "publish_preloaded_actions", func() error {
		return p.client.rdb.HSet(ctx, preLoadedActionHash, p.invokerID, value).Err()
	})
}

// PublishBusyPoolSize writes hash "busyPoolSize": invokerId -> decimal
// busyPool size, and doubles as this invoker's fleet-state heartbeat.
func (p *Publisher) PublishBusyPoolSize(ctx context.Context, size int) {
	p.publishWithRetry(ctx, "publish_busy_pool_size", func() error {
		return p.client.rdb.HSet(ctx, busyPoolSizeHash, p.invokerID, strconv.Itoa(size)).Err()
	})
	p.publishWithRetry(ctx, "publish_heartbeat", func() error {
		return p.client.rdb.HSet(ctx, lastSeenHash, p.invokerID, strconv.FormatInt(time.Now().Unix(), 10)).Err()
	})
}

func dedupeSorted(items []string) []string {
	set := make(map[string]struct{}, len(items))
	for _, it := range items {
		set[it] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for it := range set {
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

// Reader exposes the read ops an external controller-side load balancer
// would use to consume the fleet-state hashes.
type Reader struct {
	client *Client
}

// NewReader builds a Reader over the shared client.
func NewReader(client *Client) *Reader {
	return &Reader{client: client}
}

// InvokerIDForHost returns the invoker id registered for hostIP.
func (r *Reader) InvokerIDForHost(ctx context.Context, hostIP string) (string, error) {
	return r.client.rdb.HGet(ctx, invokerIDHash, hostIP).Result()
}

// PreLoadedActionsForInvoker returns the distinct action names an
// invoker currently has pre-loaded, per its last publish.
func (r *Reader) PreLoadedActionsForInvoker(ctx context.Context, invokerID string) ([]string, error) {
	val, err := r.client.rdb.HGet(ctx, preLoadedActionHash, invokerID).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if val == "" {
		return nil, nil
	}
	return strings.Split(val, ","), nil
}

// BusyPoolSizeForInvoker returns an invoker's last-published busy pool size.
func (r *Reader) BusyPoolSizeForInvoker(ctx context.Context, invokerID string) (int, error) {
	val, err := r.client.rdb.HGet(ctx, busyPoolSizeHash, invokerID).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(val)
}

// CleanupStale removes every invoker whose last published heartbeat is
// older than staleThreshold from the heartbeat, pre-loaded-action and
// busy-pool-size hashes (the hostIP -> invokerId hash is left as is), mirroring
// Wingie-beta9/pkg/gateway/model_registry.go's CleanupStaleNodes.
// Returns the number of invokers removed.
func (r *Reader) CleanupStale(ctx context.Context, staleThreshold time.Duration) (int, error) {
	seen, err := r.client.rdb.HGetAll(ctx, lastSeenHash).Result()
	if err != nil {
		return 0, err
	}
	now := time.Now()
	removed := 0
	for invokerID, v := range seen {
		ts, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			continue
		}
		if now.Sub(time.Unix(ts, 0)) <= staleThreshold {
			continue
		}
		pipe := r.client.rdb.Pipeline()
		pipe.HDel(ctx, lastSeenHash, invokerID)
		pipe.HDel(ctx, preLoadedActionHash, invokerID)
		pipe.HDel(ctx, busyPoolSizeHash, invokerID)
		if _, err := pipe.Exec(ctx); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// AllBusyPoolSizes returns the full invokerId -> busyPoolSize hash,
// used by the (out-of-scope) controller-side load balancer to rank
// invokers.
func (r *Reader) AllBusyPoolSizes(ctx context.Context) (map[string]int, error) {
	raw, err := r.client.rdb.HGetAll(ctx, busyPoolSizeHash).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(raw))
	for k, v := range raw {
		n, err := strconv.Atoi(v)
		if err != nil {
			continue
		}
		out[k] = n
	}
	return out, nil
}
