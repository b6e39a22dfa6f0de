package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/nimasrn/esim-gateway/pkg/prom"
	"github.com/nimasrn/esim-gateway/pkg/redis"
)

const metaPrefix = "meta_"

var ErrAlreadySettled = errors.New("message already acked or rejected")

// Message is one job read from the stream.
type Message struct {
	ID          string
	Kind        string
	Data        []byte
	Metadata    map[string]string
	PublishedAt time.Time
	// Deliveries counts how often the stream has handed this message out, this one included.
	Deliveries int64

	settled bool
	queue   *Queue
}

func (m *Message) Decode(v any) error {
	return json.Unmarshal(m.Data, v)
}

// Ack removes the message from the pending list.
func (m *Message) Ack() error {
	if m.settled {
		return ErrAlreadySettled
	}
	m.settled = true
	return m.queue.ack(m.ID)
}

// Nack leaves the message pending so it is reclaimed after the visibility timeout.
func (m *Message) Nack() error {
	if m.settled {
		return ErrAlreadySettled
	}
	m.settled = true
	return nil
}

// Handler processes one message. A nil error acks it, any error leaves it for redelivery.
type Handler func(ctx context.Context, msg *Message) error

type Config struct {
	Name              string
	ConsumerGroup     string
	ConsumerName      string
	MaxRetries        int
	VisibilityTimeout time.Duration
	PollInterval      time.Duration
	BatchSize         int64
	MaxLen            int64
	EnableDLQ         bool
}

// Queue is an at-least-once job queue on a redis stream with a consumer group.
type Queue struct {
	adapter redis.RedisAdapter
	config  Config
	handler Handler

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Stats struct {
	Total     int64
	Pending   int64
	Consumers int64
}

func New(adapter redis.RedisAdapter, config Config) (*Queue, error) {
	if config.Name == "" {
		return nil, fmt.Errorf("queue name is required")
	}
	if config.ConsumerGroup == "" {
		config.ConsumerGroup = "default-group"
	}
	if config.ConsumerName == "" {
		config.ConsumerName = fmt.Sprintf("consumer-%d", time.Now().UnixNano())
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = 3
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 30 * time.Second
	}
	if config.PollInterval <= 0 {
		config.PollInterval = time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 10
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		adapter: adapter,
		config:  config,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := adapter.XGroupCreateMkStream(config.Name, config.ConsumerGroup, "0"); err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		cancel()
		return nil, fmt.Errorf("create consumer group %s: %w", config.ConsumerGroup, err)
	}
	return q, nil
}

func (q *Queue) Name() string {
	return q.config.Name
}

// Publish JSON-encodes payload and appends it to the stream.
func (q *Queue) Publish(_ context.Context, kind string, payload any, metadata map[string]string) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s job: %w", kind, err)
	}

	values := map[string]interface{}{
		"kind":         kind,
		"data":         string(data),
		"published_at": time.Now().UnixMilli(),
	}
	for k, v := range metadata {
		values[metaPrefix+k] = v
	}

	id, err := q.adapter.XAdd(q.config.Name, values)
	if err != nil {
		return "", fmt.Errorf("publish %s job: %w", kind, err)
	}
	if q.config.MaxLen > 0 {
		if err := q.adapter.XTrimApprox(q.config.Name, q.config.MaxLen); err != nil {
			logger.Warn("failed to trim queue", "queue", q.config.Name, "error", err)
		}
	}
	return id, nil
}

// Consume starts the poll loop in the background. Stop ends it.
func (q *Queue) Consume(handler Handler) error {
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}
	q.handler = handler
	q.wg.Add(1)
	go q.loop()

	logger.Info("queue consumer started", "queue", q.config.Name, "group", q.config.ConsumerGroup, "consumer", q.config.ConsumerName)
	return nil
}

func (q *Queue) loop() {
	defer q.wg.Done()

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			q.readNew()
			q.reclaimStuck()
		}
	}
}

func (q *Queue) readNew() {
	batch, err := q.adapter.XReadGroup(q.config.ConsumerGroup, q.config.ConsumerName, q.config.Name, ">", q.config.BatchSize)
	if err != nil {
		if !errors.Is(err, redis.NilError) {
			logger.Error("failed to read queue", "queue", q.config.Name, "error", err)
		}
		return
	}
	for _, sm := range batch {
		msg := q.toMessage(sm)
		msg.Deliveries = 1
		q.dispatch(msg)
	}
}

func (q *Queue) reclaimStuck() {
	pending, err := q.adapter.XPendingExt(q.config.Name, q.config.ConsumerGroup, "-", "+", 100)
	if err != nil || len(pending) == 0 {
		return
	}

	deliveries := make(map[string]int64, len(pending))
	var ids []string
	for _, p := range pending {
		if p.Idle >= q.config.VisibilityTimeout {
			ids = append(ids, p.ID)
			deliveries[p.ID] = p.RetryCount + 1
		}
	}
	if len(ids) == 0 {
		return
	}

	claimed, err := q.adapter.XClaim(q.config.Name, q.config.ConsumerGroup, q.config.ConsumerName, q.config.VisibilityTimeout, ids...)
	if err != nil {
		logger.Error("failed to reclaim queue messages", "queue", q.config.Name, "error", err)
		return
	}
	for _, sm := range claimed {
		msg := q.toMessage(sm)
		msg.Deliveries = deliveries[sm.ID]
		q.dispatch(msg)
	}
}

func (q *Queue) dispatch(msg *Message) {
	if msg.Deliveries > int64(q.config.MaxRetries) {
		logger.Error("queue message exceeded retries", "queue", q.config.Name, "id", msg.ID, "kind", msg.Kind, "deliveries", msg.Deliveries)
		q.deadLetter(msg)
		_ = q.ack(msg.ID)
		return
	}

	ctx, cancel := context.WithTimeout(q.ctx, q.config.VisibilityTimeout)
	defer cancel()

	if err := q.handler(ctx, msg); err != nil {
		logger.Warn("queue message failed", "queue", q.config.Name, "id", msg.ID, "kind", msg.Kind, "deliveries", msg.Deliveries, "error", err)
		return
	}
	if !msg.settled {
		if err := msg.Ack(); err != nil {
			logger.Error("failed to ack queue message", "queue", q.config.Name, "id", msg.ID, "error", err)
		}
	}
}

func (q *Queue) ack(id string) error {
	return q.adapter.XAck(q.config.Name, q.config.ConsumerGroup, id)
}

func (q *Queue) deadLetter(msg *Message) {
	if !q.config.EnableDLQ {
		return
	}
	values := map[string]interface{}{
		"kind":           msg.Kind,
		"data":           string(msg.Data),
		"original_id":    msg.ID,
		"deliveries":     msg.Deliveries,
		"failed_at":      time.Now().UnixMilli(),
		"original_queue": q.config.Name,
	}
	for k, v := range msg.Metadata {
		values[metaPrefix+k] = v
	}
	if _, err := q.adapter.XAdd(q.DeadLetterName(), values); err != nil {
		logger.Error("failed to dead-letter message", "queue", q.config.Name, "id", msg.ID, "error", err)
	}
}

func (q *Queue) DeadLetterName() string {
	return q.config.Name + ":dlq"
}

func (q *Queue) toMessage(sm redis.StreamMessage) *Message {
	msg := &Message{ID: sm.ID, Metadata: make(map[string]string), queue: q}

	for k, v := range sm.Values {
		s, _ := v.(string)
		switch {
		case k == "kind":
			msg.Kind = s
		case k == "data":
			msg.Data = []byte(s)
		case k == "published_at":
			if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
				msg.PublishedAt = time.UnixMilli(ms)
			}
		case strings.HasPrefix(k, metaPrefix):
			msg.Metadata[strings.TrimPrefix(k, metaPrefix)] = s
		}
	}
	if msg.PublishedAt.IsZero() {
		msg.PublishedAt = time.Now()
	}
	return msg
}

func (q *Queue) Stop(timeout time.Duration) error {
	q.cancel()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timeout waiting for queue %s to stop", q.config.Name)
	}
}

// Stats reads the stream length and pending count and publishes the pending gauge.
func (q *Queue) Stats() (*Stats, error) {
	total, err := q.adapter.XLen(q.config.Name)
	if err != nil {
		return nil, err
	}
	stats := &Stats{Total: total}

	pending, err := q.adapter.XPending(q.config.Name, q.config.ConsumerGroup)
	if err == nil && pending != nil {
		stats.Pending = pending.Count
		stats.Consumers = int64(len(pending.Consumers))
	}
	prom.SetQueuePending(q.config.Name, stats.Pending)
	return stats, nil
}
