package broker

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/c360/bridgeharness/errors"
	"github.com/c360/bridgeharness/metric"
	"github.com/c360/bridgeharness/pkg/retry"
)

// NoOffset is returned by CommittedOffset when a group has committed nothing.
const NoOffset int64 = -1

// clientConfig holds configuration for the broker client
type clientConfig struct {
	logger       *slog.Logger
	metrics      *metric.Metrics
	partitions   int
	replication  int
	timeout      time.Duration
	readMaxWait  time.Duration
	batchTimeout time.Duration
}

// ClientOption configures a Client
type ClientOption func(*clientConfig)

// WithClientLogger sets the client logger
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(cfg *clientConfig) {
		cfg.logger = logger
	}
}

// WithClientMetrics records produced and consumed records
func WithClientMetrics(m *metric.Metrics) ClientOption {
	return func(cfg *clientConfig) {
		cfg.metrics = m
	}
}

// WithPartitions sets the partition count for created topics
func WithPartitions(n int) ClientOption {
	return func(cfg *clientConfig) {
		if n > 0 {
			cfg.partitions = n
		}
	}
}

// WithRequestTimeout bounds each administrative request
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(cfg *clientConfig) {
		cfg.timeout = timeout
	}
}

// Client is the harness's administrative and data-plane access to the broker.
// A Client is safe for concurrent use.
type Client struct {
	brokers []string
	admin   *kafka.Client
	writer  *kafka.Writer
	cfg     clientConfig
	logger  *slog.Logger

	mu      sync.Mutex
	readers map[*kafka.Reader]struct{}
	closed  bool
}

// NewClient creates a client for the given bootstrap addresses.
func NewClient(brokers []string, opts ...ClientOption) *Client {
	cfg := clientConfig{
		logger:       slog.Default(),
		partitions:   1,
		replication:  1,
		timeout:      10 * time.Second,
		readMaxWait:  250 * time.Millisecond,
		batchTimeout: 10 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	addr := kafka.TCP(brokers...)
	return &Client{
		brokers: brokers,
		admin:   &kafka.Client{Addr: addr, Timeout: cfg.timeout},
		writer: &kafka.Writer{
			Addr:         addr,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: cfg.batchTimeout,
		},
		cfg:     cfg,
		logger:  cfg.logger,
		readers: make(map[*kafka.Reader]struct{}),
	}
}

// Brokers returns the bootstrap addresses.
func (c *Client) Brokers() []string {
	return c.brokers
}

// CreateTopics creates the topics. Topics that already exist count as created.
func (c *Client) CreateTopics(ctx context.Context, topics ...string) error {
	if len(topics) == 0 {
		return nil
	}

	configs := make([]kafka.TopicConfig, 0, len(topics))
	for _, topic := range topics {
		configs = append(configs, kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     c.cfg.partitions,
			ReplicationFactor: c.cfg.replication,
		})
	}

	resp, err := c.admin.CreateTopics(ctx, &kafka.CreateTopicsRequest{Topics: configs})
	if err != nil {
		return errors.WrapTransient(err, "Client", "CreateTopics", "send create topics request")
	}
	if err := createTopicsResult(resp.Errors); err != nil {
		return err
	}

	// Producing right after creation fails until every partition has a leader.
	if err := c.waitForLeaders(ctx, topics); err != nil {
		return err
	}

	c.logger.Debug("Topics created", "topics", topics)
	return nil
}

func createTopicsResult(results map[string]error) error {
	var failed []error
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		err := results[name]
		if err == nil || stderrors.Is(err, kafka.TopicAlreadyExists) {
			continue
		}
		failed = append(failed, fmt.Errorf("topic %s: %w", name, err))
	}
	if len(failed) == 0 {
		return nil
	}

	joined := stderrors.Join(failed...)
	if isTemporary(joined) {
		return errors.WrapTransient(joined, "Client", "CreateTopics", "create topics")
	}
	return errors.WrapFatal(joined, "Client", "CreateTopics", "create topics")
}

func isTemporary(err error) bool {
	var kerr kafka.Error
	if stderrors.As(err, &kerr) {
		return kerr.Temporary()
	}
	return errors.IsTransient(err)
}

func (c *Client) waitForLeaders(ctx context.Context, topics []string) error {
	err := retry.Poll(ctx, retry.PollConfig{Interval: 100 * time.Millisecond, Timeout: c.cfg.timeout},
		func(ctx context.Context) (bool, error) {
			resp, err := c.admin.Metadata(ctx, &kafka.MetadataRequest{Topics: topics})
			if err != nil {
				return false, err
			}
			return topicsHaveLeaders(resp.Topics, topics), nil
		})
	if err != nil {
		return errors.WrapTransient(err, "Client", "CreateTopics", "wait for partition leaders")
	}
	return nil
}

func topicsHaveLeaders(meta []kafka.Topic, want []string) bool {
	byName := make(map[string]kafka.Topic, len(meta))
	for _, t := range meta {
		byName[t.Name] = t
	}
	for _, name := range want {
		t, ok := byName[name]
		if !ok || t.Error != nil || len(t.Partitions) == 0 {
			return false
		}
		for _, p := range t.Partitions {
			if p.Leader.Host == "" {
				return false
			}
		}
	}
	return true
}

// ListTopics returns the non-internal topic names, sorted.
func (c *Client) ListTopics(ctx context.Context) ([]string, error) {
	resp, err := c.admin.Metadata(ctx, &kafka.MetadataRequest{})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "ListTopics", "fetch metadata")
	}
	names := make([]string, 0, len(resp.Topics))
	for _, t := range resp.Topics {
		if t.Internal {
			continue
		}
		names = append(names, t.Name)
	}
	sort.Strings(names)
	return names, nil
}

// Ping checks that the broker answers metadata requests.
func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.admin.Metadata(ctx, &kafka.MetadataRequest{Topics: []string{}})
	if err != nil {
		return errors.WrapTransient(err, "Client", "Ping", "fetch metadata")
	}
	if len(resp.Brokers) == 0 {
		return errors.WrapTransient(errors.ErrConnectionLost, "Client", "Ping", "list brokers")
	}
	return nil
}

// Produce writes records to topic and returns once the broker acknowledged all of them.
func (c *Client) Produce(ctx context.Context, topic string, records ...Record) error {
	if len(records) == 0 {
		return nil
	}
	if c.isClosed() {
		return errors.Wrap(errors.ErrNotStarted, "Client", "Produce", "write to closed client")
	}

	msgs := make([]kafka.Message, len(records))
	for i, r := range records {
		msgs[i] = r.message(topic)
	}

	if err := c.writer.WriteMessages(ctx, msgs...); err != nil {
		return errors.WrapTransient(err, "Client", "Produce", fmt.Sprintf("write %d record(s) to %s", len(msgs), topic))
	}
	c.cfg.metrics.RecordProduced(topic, len(msgs))
	return nil
}

// Consume returns the first message on topic, reading from the earliest
// offset with a fresh consumer group.
func (c *Client) Consume(ctx context.Context, topic string) (ConsumedMessage, error) {
	msgs, err := c.ConsumeN(ctx, topic, 1)
	if err != nil {
		return ConsumedMessage{}, err
	}
	return msgs[0], nil
}

// ConsumeN reads n messages from the earliest offset of topic. When ctx ends
// first it returns the messages read so far and an assertion timeout error.
func (c *Client) ConsumeN(ctx context.Context, topic string, n int) ([]ConsumedMessage, error) {
	if n <= 0 {
		return nil, nil
	}

	reader, err := c.openReader(topic)
	if err != nil {
		return nil, err
	}
	defer c.closeReader(reader)

	start := time.Now()
	out := make([]ConsumedMessage, 0, n)
	for len(out) < n {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			c.cfg.metrics.RecordWait("ConsumeN", false, time.Since(start))
			c.cfg.metrics.RecordConsumed(topic, len(out))
			cause := fmt.Errorf("read %d of %d message(s) from %s: %w", len(out), n, topic, err)
			return out, errors.AssertionTimeout("broker", "ConsumeN", cause)
		}
		out = append(out, consumedFrom(msg))
	}
	c.cfg.metrics.RecordWait("ConsumeN", true, time.Since(start))
	c.cfg.metrics.RecordConsumed(topic, len(out))
	return out, nil
}

func (c *Client) openReader(topic string) (*kafka.Reader, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.Wrap(errors.ErrNotStarted, "Client", "Consume", "read from closed client")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     c.brokers,
		GroupID:     "harness-" + uuid.NewString(),
		Topic:       topic,
		StartOffset: kafka.FirstOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     c.cfg.readMaxWait,
	})
	c.readers[reader] = struct{}{}
	return reader, nil
}

func (c *Client) closeReader(reader *kafka.Reader) {
	c.mu.Lock()
	_, open := c.readers[reader]
	delete(c.readers, reader)
	c.mu.Unlock()

	if open {
		if err := reader.Close(); err != nil {
			c.logger.Debug("Reader close failed", "error", err)
		}
	}
}

// FetchOffsets returns the committed offset of every partition of topics for groupID.
// Partitions without a committed offset report NoOffset.
func (c *Client) FetchOffsets(ctx context.Context, groupID string, topics ...string) (map[string]map[int]int64, error) {
	meta, err := c.admin.Metadata(ctx, &kafka.MetadataRequest{Topics: topics})
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "FetchOffsets", "fetch metadata")
	}

	req := &kafka.OffsetFetchRequest{GroupID: groupID, Topics: make(map[string][]int, len(meta.Topics))}
	for _, t := range meta.Topics {
		if t.Error != nil {
			return nil, errors.WrapTransient(t.Error, "Client", "FetchOffsets", "resolve topic "+t.Name)
		}
		partitions := make([]int, 0, len(t.Partitions))
		for _, p := range t.Partitions {
			partitions = append(partitions, p.ID)
		}
		req.Topics[t.Name] = partitions
	}

	resp, err := c.admin.OffsetFetch(ctx, req)
	if err != nil {
		return nil, errors.WrapTransient(err, "Client", "FetchOffsets", "fetch committed offsets")
	}
	if resp.Error != nil {
		return nil, errors.WrapTransient(resp.Error, "Client", "FetchOffsets", "fetch committed offsets")
	}

	out := make(map[string]map[int]int64, len(resp.Topics))
	for topic, partitions := range resp.Topics {
		offsets := make(map[int]int64, len(partitions))
		for _, p := range partitions {
			if p.Error != nil {
				return nil, errors.WrapTransient(p.Error, "Client", "FetchOffsets",
					fmt.Sprintf("read offset of %s/%d", topic, p.Partition))
			}
			offsets[p.Partition] = p.CommittedOffset
		}
		out[topic] = offsets
	}
	return out, nil
}

// CommittedOffset returns the sum of committed offsets over all partitions of
// topic for groupID, or NoOffset when the group has committed nothing.
func (c *Client) CommittedOffset(ctx context.Context, groupID, topic string) (int64, error) {
	offsets, err := c.FetchOffsets(ctx, groupID, topic)
	if err != nil {
		return NoOffset, err
	}
	return sumCommitted(offsets[topic]), nil
}

func sumCommitted(partitions map[int]int64) int64 {
	total := NoOffset
	for _, offset := range partitions {
		if offset < 0 {
			continue
		}
		if total == NoOffset {
			total = 0
		}
		total += offset
	}
	return total
}

// WaitForOffset polls until the committed offset of topic for groupID reaches
// want. On timeout it returns the last observed offset and an assertion
// timeout error.
func (c *Client) WaitForOffset(ctx context.Context, groupID, topic string, want int64, poll retry.PollConfig) (int64, error) {
	start := time.Now()
	last := NoOffset
	err := retry.Poll(ctx, poll, func(ctx context.Context) (bool, error) {
		offset, err := c.CommittedOffset(ctx, groupID, topic)
		if err != nil {
			return false, err
		}
		last = offset
		return offset >= want, nil
	})
	c.cfg.metrics.RecordWait("WaitForOffset", err == nil, time.Since(start))
	if err != nil {
		cause := fmt.Errorf("offset of %s for group %s is %d, want %d: %w", topic, groupID, last, want, err)
		return last, errors.AssertionTimeout("broker", "WaitForOffset", cause)
	}
	return last, nil
}

// Close closes the writer and every open reader. It is safe to call more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	readers := make([]*kafka.Reader, 0, len(c.readers))
	for r := range c.readers {
		readers = append(readers, r)
	}
	c.readers = make(map[*kafka.Reader]struct{})
	c.mu.Unlock()

	var errs []error
	for _, r := range readers {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := c.writer.Close(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Wrap(stderrors.Join(errs...), "Client", "Close", "close broker connections")
	}
	return nil
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
