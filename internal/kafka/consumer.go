package kafka

import (
	"context"
	"github.com/cespare/xxhash/v2"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"sync"
	"time"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

type committer interface {
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
}

type Consumer struct {
	r       *kafka.Reader
	workers int
	log     *zap.Logger

	RetryBase time.Duration // backoff awal saat handler gagal
	RetryMax  time.Duration

	commitMu sync.Mutex
	offsets  *offsetTracker
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{r: r, workers: workers, log: log, RetryBase: 200 * time.Millisecond, RetryMax: 10 * time.Second}
}

// Start dispatches each message to a worker chosen by key hash, so messages
// with the same key (one payment intent) are handled in partition order.
// A failing message is retried in place; offsets are committed only up to the
// lowest message of each partition that is not done yet.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	c.offsets = newOffsetTracker()
	jobs := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup

	// workers
	for i := range jobs {
		jobs[i] = make(chan kafka.Message, 128)
		wg.Add(1)
		go func(in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if !c.process(ctx, h, m) {
					// ctx selesai: sisa pesan tidak di-commit, dibaca ulang setelah restart
					continue
				}
				c.commit(ctx, c.r, m)
			}
		}(jobs[i])
	}
	stop := func() {
		for _, ch := range jobs {
			close(ch)
		}
		wg.Wait()
	}

	// dispatcher loop
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			// kecilkan noise saat shutdown
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		c.offsets.fetched(m)
		select {
		case jobs[workerFor(m.Key, c.workers)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

// process runs h until it succeeds. It returns false only when ctx ends first.
func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) bool {
	backoff := c.RetryBase
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return true
		}
		c.log.Warn("handler error, retrying",
			zap.String("topic", m.Topic),
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}
		if backoff *= 2; c.RetryMax > 0 && backoff > c.RetryMax {
			backoff = c.RetryMax
		}
	}
}

// commit marks m done and commits the highest offset with nothing pending
// below it. commitMu keeps commits per partition monotonic across workers.
func (c *Consumer) commit(ctx context.Context, r committer, m kafka.Message) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	upTo, ok := c.offsets.done(m)
	if !ok {
		return
	}
	if err := r.CommitMessages(ctx, upTo); err != nil {
		c.log.Warn("commit failed", zap.Int("partition", upTo.Partition), zap.Int64("offset", upTo.Offset), zap.Error(err))
	}
}

func workerFor(key []byte, workers int) int {
	return int(xxhash.Sum64(key) % uint64(workers))
}

// offsetTracker remembers fetched offsets per partition in fetch order.
type offsetTracker struct {
	mu      sync.Mutex
	pending map[int][]kafka.Message
	settled map[int]map[int64]bool
}

func newOffsetTracker() *offsetTracker {
	return &offsetTracker{pending: map[int][]kafka.Message{}, settled: map[int]map[int64]bool{}}
}

func (t *offsetTracker) fetched(m kafka.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	q := t.pending[m.Partition]
	if n := len(q); n > 0 && m.Offset <= q[n-1].Offset {
		// partisi di-assign ulang & dibaca dari offset ter-commit: mulai dari awal
		q = nil
		t.settled[m.Partition] = nil
	}
	t.pending[m.Partition] = append(q, kafka.Message{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset})
}

// done returns the message to commit, if the front of the partition moved.
func (t *offsetTracker) done(m kafka.Message) (kafka.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.settled[m.Partition] == nil {
		t.settled[m.Partition] = map[int64]bool{}
	}
	settled := t.settled[m.Partition]
	settled[m.Offset] = true

	q := t.pending[m.Partition]
	var (
		last  kafka.Message
		moved bool
	)
	for len(q) > 0 && settled[q[0].Offset] {
		last = q[0]
		delete(settled, q[0].Offset)
		q = q[1:]
		moved = true
	}
	t.pending[m.Partition] = q
	return last, moved
}
