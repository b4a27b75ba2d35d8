package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// MessageTransport is the bus between the orchestrator and provider
// workers: one stream per routing key, plus durable consumer checkpoints.
type MessageTransport interface {
	Publish(ctx context.Context, stream string, msg any) (string, error)
	// Read blocks until a message newer than lastID exists, decodes it into
	// dst and returns its id.
	Read(ctx context.Context, stream, lastID string, dst any) (string, error)
	LoadStreamCheckpoint(ctx context.Context, key string) (string, error)
	PersistStreamCheckpoint(ctx context.Context, key, value string) error
	Close() error
}

const (
	fieldPayload = "payload"
	fieldCodec   = "codec"

	defaultReadBlock = time.Second
)

// Stream is the redis streams MessageTransport (XADD / XREAD).
type Stream struct {
	client    redis.UniversalClient
	keys      keyspace
	codec     Codec
	maxLen    int64
	readBlock time.Duration
}

var _ MessageTransport = (*Stream)(nil)

type StreamOption func(*Stream)

func WithCodec(codec Codec) StreamOption {
	return func(s *Stream) { s.codec = codec }
}

// WithMaxLen trims each stream to roughly n entries on publish. Zero keeps
// every entry.
func WithMaxLen(n int64) StreamOption {
	return func(s *Stream) { s.maxLen = n }
}

func WithReadBlock(d time.Duration) StreamOption {
	return func(s *Stream) {
		if d > 0 {
			s.readBlock = d
		}
	}
}

func NewStream(client redis.UniversalClient, keyPrefix string, opts ...StreamOption) *Stream {
	s := &Stream{
		client:    client,
		keys:      newKeyspace(keyPrefix),
		codec:     JSONCodec{},
		readBlock: defaultReadBlock,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close is a no-op: the redis client is owned by the caller.
func (s *Stream) Close() error { return nil }

func (s *Stream) Publish(ctx context.Context, stream string, msg any) (string, error) {
	payload, err := streamPayload(s.codec, msg)
	if err != nil {
		return "", err
	}

	args := &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			fieldPayload: payload,
			fieldCodec:   s.codec.Name(),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}

	id, err := s.client.XAdd(ctx, args).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}
	return id, nil
}

func (s *Stream) Read(ctx context.Context, stream, lastID string, dst any) (string, error) {
	if lastID == "" {
		lastID = "0"
	}
	if err := validateStreamOffset(lastID); err != nil {
		return "", err
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		res, err := s.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{stream, lastID},
			Count:   1,
			Block:   s.readBlock,
		}).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return "", ctxErr
			}
			return "", fmt.Errorf("xread %s: %w", stream, err)
		}
		if len(res) == 0 || len(res[0].Messages) == 0 {
			continue
		}

		msg := res[0].Messages[0]
		if err := decodeStreamMessage(msg.Values, dst); err != nil {
			return msg.ID, fmt.Errorf("decode %s message %s: %w", stream, msg.ID, err)
		}
		return msg.ID, nil
	}
}

func (s *Stream) LoadStreamCheckpoint(ctx context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	value, err := s.client.Get(ctx, s.checkpointKey(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load checkpoint %s: %w", key, err)
	}
	return value, nil
}

func (s *Stream) PersistStreamCheckpoint(ctx context.Context, key, value string) error {
	if key == "" {
		return nil
	}
	if err := validateStreamOffset(value); err != nil {
		return err
	}
	if err := s.client.Set(ctx, s.checkpointKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("persist checkpoint %s: %w", key, err)
	}
	return nil
}

func (s *Stream) checkpointKey(key string) string {
	return s.keys.prefix + "checkpoint:" + key
}

func decodeStreamMessage(values map[string]interface{}, dst any) error {
	raw, ok := values[fieldPayload]
	if !ok {
		return errors.New("message has no payload field")
	}
	var payload []byte
	switch v := raw.(type) {
	case string:
		payload = []byte(v)
	case []byte:
		payload = v
	default:
		return fmt.Errorf("payload type %T not supported", raw)
	}

	name, _ := values[fieldCodec].(string)
	codec, err := GetCodec(name)
	if err != nil {
		return err
	}
	return codec.Unmarshal(payload, dst)
}

// streamPayload passes pre-encoded bodies through and encodes everything
// else with codec.
func streamPayload(codec Codec, msg any) ([]byte, error) {
	switch v := msg.(type) {
	case nil:
		return nil, errors.New("stream payload nil not supported")
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		payload, err := codec.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("encode stream payload %T with %s: %w", msg, codec.Name(), err)
		}
		return payload, nil
	}
}

// parseStreamOffset returns the millisecond (or sequence) part of a stream id.
func parseStreamOffset(value string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	head, _, _ := strings.Cut(value, "-")
	if head == "" {
		// Leading dash: a negative number.
		head = value
	}
	n, err := strconv.ParseInt(head, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid stream offset %q: %w", value, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// validateStreamOffset accepts "", "<n>" and "<n>-<m>" with non-negative parts.
func validateStreamOffset(value string) error {
	if value == "" {
		return nil
	}
	head, tail, hasTail := strings.Cut(value, "-")
	if !isDigits(head) || (hasTail && !isDigits(tail)) {
		return fmt.Errorf("invalid stream offset %q", value)
	}
	return nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, ch := range s {
		if ch < '0' || ch > '9' {
			return false
		}
	}
	return true
}

// InMemoryStream is a process-local MessageTransport for tests and
// single-node runs.
type InMemoryStream struct {
	mu          sync.Mutex
	codec       Codec
	streams     map[string][]memoryMessage
	checkpoints map[string]string
	signal      chan struct{}
}

type memoryMessage struct {
	seq     int64
	payload []byte
	codec   string
}

var _ MessageTransport = (*InMemoryStream)(nil)

func NewInMemoryStream() *InMemoryStream {
	return NewInMemoryStreamWithCodec(JSONCodec{})
}

func NewInMemoryStreamWithCodec(codec Codec) *InMemoryStream {
	return &InMemoryStream{
		codec:       codec,
		streams:     make(map[string][]memoryMessage),
		checkpoints: make(map[string]string),
		signal:      make(chan struct{}),
	}
}

func (s *InMemoryStream) Publish(ctx context.Context, stream string, msg any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	payload, err := streamPayload(s.codec, msg)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	seq := int64(len(s.streams[stream]) + 1)
	s.streams[stream] = append(s.streams[stream], memoryMessage{
		seq:     seq,
		payload: append([]byte(nil), payload...),
		codec:   s.codec.Name(),
	})
	close(s.signal)
	s.signal = make(chan struct{})
	return formatMemoryID(seq), nil
}

func (s *InMemoryStream) Read(ctx context.Context, stream, lastID string, dst any) (string, error) {
	after, err := parseStreamOffset(lastID)
	if err != nil {
		return "", err
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		s.mu.Lock()
		var (
			found bool
			msg   memoryMessage
		)
		for _, m := range s.streams[stream] {
			if m.seq > after {
				msg, found = m, true
				break
			}
		}
		signal := s.signal
		s.mu.Unlock()

		if found {
			id := formatMemoryID(msg.seq)
			codec, err := GetCodec(msg.codec)
			if err != nil {
				return id, err
			}
			if err := codec.Unmarshal(msg.payload, dst); err != nil {
				return id, fmt.Errorf("decode %s message %s: %w", stream, id, err)
			}
			return id, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-signal:
		}
	}
}

func (s *InMemoryStream) LoadStreamCheckpoint(_ context.Context, key string) (string, error) {
	if key == "" {
		return "", nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoints[key], nil
}

func (s *InMemoryStream) PersistStreamCheckpoint(_ context.Context, key, value string) error {
	if key == "" {
		return nil
	}
	if err := validateStreamOffset(value); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkpoints[key] = value
	return nil
}

// Len returns the number of messages published to stream.
func (s *InMemoryStream) Len(stream string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams[stream])
}

func (s *InMemoryStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = make(map[string][]memoryMessage)
	s.checkpoints = make(map[string]string)
	return nil
}

func formatMemoryID(seq int64) string {
	return strconv.FormatInt(seq, 10) + "-0"
}
