package live

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/eventinspect/eventinspect/pkg/observability/logger"
)

// RedisBusConfig configures the durable polled bus variant.
type RedisBusConfig struct {
	URL string
	// Key prefix, default "ei:events".
	Prefix string
	// How long a published event body survives in Redis, default 60s.
	// Events evicted before a poller reads them are lost; this bounds the
	// loss window.
	EventTTL time.Duration
	// Capacity of the recent-ids list, default 1000. Oldest ids fall off.
	QueueSize int64
	// Poll period, default 1s. Delivery latency is at most one period.
	PollInterval time.Duration
	// Ids examined per poll, default 50.
	PollBatch int64
	// Per-command timeout, default 3s.
	OperationTimeout time.Duration
	MaxConns         int
}

func (cfg RedisBusConfig) withDefaults() RedisBusConfig {
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = "ei:events"
	}
	if cfg.EventTTL <= 0 {
		cfg.EventTTL = 60 * time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1000
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.PollBatch <= 0 {
		cfg.PollBatch = 50
	}
	if cfg.OperationTimeout <= 0 {
		cfg.OperationTimeout = 3 * time.Second
	}
	return cfg
}

// RedisBus is the durable-queue bus variant for deployments where
// ingestion and streaming run in separate processes. Publish appends the
// event to Redis with a TTL and pushes its id onto a capped recent-ids
// list; each process independently polls that list and fans matching
// events out to its local subscribers. Delivery is best-effort with
// bounded staleness: at most one poll interval of latency, and loss only
// when an event ages out of the TTL window or capped list before a poll.
type RedisBus struct {
	client *redis.Client
	cfg    RedisBusConfig
	log    logger.Logger

	// Local subscriber registry; the poller is the only publisher into it.
	local *MemoryBus

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}

	// Poller-goroutine state, no locking needed.
	watermark time.Time
	seen      map[string]time.Time
}

// NewRedisBus creates the durable bus variant. The connection is not
// verified here; the health checker owns liveness.
func NewRedisBus(cfg RedisBusConfig, log logger.Logger) (*RedisBus, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("redis url is required")
	}
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if cfg.MaxConns > 0 {
		opts.PoolSize = cfg.MaxConns
	}
	cfg = cfg.withDefaults()
	if log == nil {
		log = logger.NewNop()
	}

	return &RedisBus{
		client: redis.NewClient(opts),
		cfg:    cfg,
		log:    log,
		local:  NewMemoryBus(log),
		seen:   make(map[string]time.Time),
	}, nil
}

// Client exposes the underlying redis client for health checks.
func (b *RedisBus) Client() *redis.Client {
	return b.client
}

// Publish stores the event under a TTL'd key and records its id on the
// capped recent-ids list. Local delivery happens through the poll loop
// like on every other instance, so same-process subscribers see the same
// latency and loss profile as remote ones.
func (b *RedisBus) Publish(ctx context.Context, projectID, environmentID string, evt Event) error {
	raw, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event %s: %w", evt.ID, err)
	}

	cctx, cancel := context.WithTimeout(ctx, b.cfg.OperationTimeout)
	defer cancel()

	pipe := b.client.TxPipeline()
	pipe.Set(cctx, b.eventKey(evt.ID), raw, b.cfg.EventTTL)
	pipe.LPush(cctx, b.queueKey(), evt.ID)
	pipe.LTrim(cctx, b.queueKey(), 0, b.cfg.QueueSize-1)
	if _, err := pipe.Exec(cctx); err != nil {
		return fmt.Errorf("publish event %s: %w", evt.ID, err)
	}
	return nil
}

// Subscribe registers fn on the local registry and makes sure the poll
// loop is running.
func (b *RedisBus) Subscribe(ctx context.Context, projectID, environmentID string, fn Handler) (Subscription, error) {
	sub, err := b.local.Subscribe(ctx, projectID, environmentID, fn)
	if err != nil {
		return nil, err
	}
	b.ensurePoller()
	return sub, nil
}

// Close stops the poll loop and closes the Redis client.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	if b.started {
		b.cancel()
		done := b.done
		b.started = false
		b.mu.Unlock()
		<-done
	} else {
		b.mu.Unlock()
	}
	_ = b.local.Close()
	return b.client.Close()
}

func (b *RedisBus) ensurePoller() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.started {
		return
	}
	pctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	b.done = make(chan struct{})
	b.started = true
	// Events published before this instance started are not replayed.
	b.watermark = time.Now().UTC()
	go b.run(pctx)
}

func (b *RedisBus) run(ctx context.Context) {
	defer close(b.done)
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.pollOnce(ctx)
		}
	}
}

// pollOnce reads the most recent ids, fetches bodies still inside the TTL
// window, and fans events at or after the watermark out to local
// subscribers in chronological order.
func (b *RedisBus) pollOnce(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, b.cfg.OperationTimeout)
	defer cancel()

	ids, err := b.client.LRange(cctx, b.queueKey(), 0, b.cfg.PollBatch-1).Result()
	if err != nil {
		b.log.Warn("event queue poll failed", "error", err)
		return
	}

	batch := make([]Event, 0, len(ids))
	for _, id := range ids {
		if _, ok := b.seen[id]; ok {
			continue
		}
		raw, err := b.client.Get(cctx, b.eventKey(id)).Result()
		if err == redis.Nil {
			// Evicted by TTL before this poll: the accepted loss mode.
			continue
		}
		if err != nil {
			b.log.Warn("event body read failed", "event_id", id, "error", err)
			continue
		}
		var evt Event
		if err := json.Unmarshal([]byte(raw), &evt); err != nil {
			b.log.Warn("event body decode failed", "event_id", id, "error", err)
			continue
		}
		batch = append(batch, evt)
	}

	now := time.Now().UTC()
	for _, evt := range selectNewer(batch, b.watermark) {
		b.seen[evt.ID] = now
		if evt.Timestamp.After(b.watermark) {
			b.watermark = evt.Timestamp
		}
		_ = b.local.Publish(ctx, evt.ProjectID, evt.EnvironmentID, evt)
	}
	b.pruneSeen(now)
}

// selectNewer returns the events at or after since, oldest first, so
// per-channel delivery preserves publish order. The boundary is inclusive
// because coarse caller-supplied timestamps can collide on the watermark;
// the seen map keeps already-delivered ids from repeating.
func selectNewer(events []Event, since time.Time) []Event {
	out := make([]Event, 0, len(events))
	for _, evt := range events {
		if !evt.Timestamp.Before(since) {
			out = append(out, evt)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// pruneSeen drops dedup entries older than the TTL window; their ids can
// no longer reappear in a poll.
func (b *RedisBus) pruneSeen(now time.Time) {
	cutoff := now.Add(-b.cfg.EventTTL)
	for id, at := range b.seen {
		if at.Before(cutoff) {
			delete(b.seen, id)
		}
	}
}

func (b *RedisBus) eventKey(id string) string {
	return b.cfg.Prefix + ":event:" + id
}

func (b *RedisBus) queueKey() string {
	return b.cfg.Prefix + ":queue"
}
