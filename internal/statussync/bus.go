package statussync

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/sabalioglu/ai-ugc/internal/domain"
	"github.com/sabalioglu/ai-ugc/internal/infra"
)

// Bus carries job change notifications from the store to watchers.
type Bus interface {
	Publish(ctx context.Context, change domain.Change) error
	// Subscribe returns the changes of one job until cancel is called or ctx
	// is done. The channel is closed when the subscription ends.
	Subscribe(ctx context.Context, jobID string) (<-chan domain.Change, func(), error)
}

// Hook returns a job store hook that publishes every change to bus.
func Hook(bus Bus, logger *infra.Logger) func(context.Context, domain.Change) {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	return func(ctx context.Context, change domain.Change) {
		if err := bus.Publish(ctx, change); err != nil {
			logger.Warn().Err(err).Str("job_id", change.JobID).Msg("statussync: publish change")
		}
	}
}

// Select returns the bus for mode ("redis", "nats" or "none"). It returns nil
// when push is disabled or the chosen connection is not configured.
func Select(mode string, rdb *redis.Client, nc *nats.Conn) Bus {
	switch mode {
	case "redis":
		if rdb != nil {
			return NewRedisBus(rdb)
		}
	case "nats":
		if nc != nil {
			return NewNATSBus(nc)
		}
	}
	return nil
}

func decode(data []byte) (domain.Change, bool) {
	var c domain.Change
	if err := json.Unmarshal(data, &c); err != nil || c.JobID == "" {
		return domain.Change{}, false
	}
	return c, true
}

// pump forwards decoded messages until stop closes or src ends, then closes out.
func pump[M any](src <-chan M, stop <-chan struct{}, body func(M) []byte) <-chan domain.Change {
	out := make(chan domain.Change, 16)
	go func() {
		defer close(out)
		for {
			select {
			case <-stop:
				return
			case m, ok := <-src:
				if !ok {
					return
				}
				c, ok := decode(body(m))
				if !ok {
					continue
				}
				select {
				case out <- c:
				case <-stop:
					return
				}
			}
		}
	}()
	return out
}

func stopper(ctx context.Context, release func()) (chan struct{}, func()) {
	stop := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(stop)
			release()
		})
	}
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-stop:
		}
	}()
	return stop, cancel
}

// RedisBus publishes changes on one Redis pub/sub channel per job.
type RedisBus struct {
	client *redis.Client
	prefix string
}

func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client, prefix: "ugc:job:"}
}

func (b *RedisBus) channel(jobID string) string { return b.prefix + jobID }

func (b *RedisBus) Publish(ctx context.Context, change domain.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	return b.client.Publish(ctx, b.channel(change.JobID), data).Err()
}

func (b *RedisBus) Subscribe(ctx context.Context, jobID string) (<-chan domain.Change, func(), error) {
	ps := b.client.Subscribe(ctx, b.channel(jobID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, nil, fmt.Errorf("subscribe %s: %w", jobID, err)
	}
	stop, cancel := stopper(ctx, func() { _ = ps.Close() })
	out := pump(ps.Channel(), stop, func(m *redis.Message) []byte { return []byte(m.Payload) })
	return out, cancel, nil
}

// NATSBus publishes changes on one NATS subject per job.
type NATSBus struct {
	conn   *nats.Conn
	prefix string
}

func NewNATSBus(conn *nats.Conn) *NATSBus {
	return &NATSBus{conn: conn, prefix: "ugc.jobs."}
}

func (b *NATSBus) subject(jobID string) string { return b.prefix + jobID }

func (b *NATSBus) Publish(_ context.Context, change domain.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	return b.conn.Publish(b.subject(change.JobID), data)
}

func (b *NATSBus) Subscribe(ctx context.Context, jobID string) (<-chan domain.Change, func(), error) {
	msgs := make(chan *nats.Msg, 64)
	sub, err := b.conn.ChanSubscribe(b.subject(jobID), msgs)
	if err != nil {
		return nil, nil, fmt.Errorf("subscribe %s: %w", jobID, err)
	}
	stop, cancel := stopper(ctx, func() { _ = sub.Unsubscribe() })
	out := pump(msgs, stop, func(m *nats.Msg) []byte { return m.Data })
	return out, cancel, nil
}

// MemoryBus fans changes out inside one process.
type MemoryBus struct {
	mu   sync.Mutex
	subs map[string]map[int]chan []byte
	seq  int
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: map[string]map[int]chan []byte{}}
}

func (b *MemoryBus) Publish(_ context.Context, change domain.Change) error {
	data, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs[change.JobID] {
		select {
		case ch <- data:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context, jobID string) (<-chan domain.Change, func(), error) {
	src := make(chan []byte, 64)
	b.mu.Lock()
	b.seq++
	id := b.seq
	if b.subs[jobID] == nil {
		b.subs[jobID] = map[int]chan []byte{}
	}
	b.subs[jobID][id] = src
	b.mu.Unlock()

	stop, cancel := stopper(ctx, func() {
		b.mu.Lock()
		delete(b.subs[jobID], id)
		b.mu.Unlock()
	})
	out := pump(src, stop, func(m []byte) []byte { return m })
	return out, cancel, nil
}

var (
	_ Bus = (*RedisBus)(nil)
	_ Bus = (*NATSBus)(nil)
	_ Bus = (*MemoryBus)(nil)
)
