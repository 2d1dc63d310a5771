package redislog

import (
	"context"
	"crypto/tls"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis"
	"github.com/juju/errors"

	"github.com/drewthekiiid/pipai-sub002/internal/eventlog"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

const (
	fieldType      = "event_type"
	fieldTimestamp = "timestamp"
	fieldSubject   = "subject_key"
	fieldData      = "data"
)

// Options tunes a Store.
type Options struct {
	// KeyPrefix is prepended to every subject key to form the stream key.
	KeyPrefix string
	// MaxLen caps each stream approximately; 0 keeps all entries.
	MaxLen int64
	// Logger receives warnings about entries that cannot be decoded.
	Logger logpkg.Logger
}

// Store is an eventlog.Log over Redis Streams. Cursors are stream entry ids.
//
// The client has no context support; a blocked read returns at the end of
// its block window even when ctx is cancelled earlier.
type Store struct {
	db     redis.UniversalClient
	opts   Options
	logger logpkg.Logger
	ownsDB bool
}

var _ eventlog.Log = (*Store)(nil)

// New wraps an existing client. Close does not close db.
func New(db redis.UniversalClient, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Store{db: db, opts: opts, logger: logger.With(logpkg.Component("redislog"))}
}

// DialOptions address a Redis server.
type DialOptions struct {
	Addrs    []string
	Password string
	DB       int
	TLS      bool
}

// Dial connects to Redis and returns a Store owning the client.
func Dial(d DialOptions, opts Options) *Store {
	uo := &redis.UniversalOptions{
		Addrs:    d.Addrs,
		Password: d.Password,
		DB:       d.DB,
	}
	if d.TLS {
		uo.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	s := New(redis.NewUniversalClient(uo), opts)
	s.ownsDB = true
	return s
}

func (s *Store) key(subject string) string { return s.opts.KeyPrefix + subject }

// Append implements eventlog.Log.
func (s *Store) Append(ctx context.Context, subject string, ev eventlog.Event) (eventlog.Cursor, error) {
	if subject == "" {
		return "", errors.NotValidf("empty subject key")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	payload, err := eventlog.EncodePayload(ev.Payload)
	if err != nil {
		return "", errors.Trace(err)
	}
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	id, err := s.db.XAdd(&redis.XAddArgs{
		Stream:       s.key(subject),
		MaxLenApprox: s.opts.MaxLen,
		Values: map[string]interface{}{
			fieldType:      string(ev.Type),
			fieldTimestamp: strconv.FormatInt(ts.UnixMilli(), 10),
			fieldSubject:   subject,
			fieldData:      string(payload),
		},
	}).Result()
	if err != nil {
		return "", eventlog.Unavailable(err, "xadd %q", subject)
	}
	return eventlog.Cursor(id), nil
}

// ReadAfter implements eventlog.Log.
func (s *Store) ReadAfter(ctx context.Context, subject string, cursor eventlog.Cursor, block time.Duration, maxCount int) ([]eventlog.Event, error) {
	if subject == "" {
		return nil, errors.NotValidf("empty subject key")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if maxCount <= 0 {
		maxCount = 100
	}
	after := string(eventlog.NormalizeCursor(cursor))
	for {
		events, last, err := s.read(ctx, subject, after, block, maxCount)
		if err != nil {
			if isInvalidID(err) {
				return nil, errors.NewNotValid(err, "cursor "+string(cursor))
			}
			return nil, err
		}
		// A batch made only of undecodable entries must not end the read,
		// or the caller would be handed the same entries again.
		if len(events) > 0 || last == "" {
			return events, nil
		}
		after = last
	}
}

// read returns the decodable entries after the given id and the id of the
// last entry seen, decodable or not.
func (s *Store) read(ctx context.Context, subject, after string, block time.Duration, maxCount int) ([]eventlog.Event, string, error) {
	args := &redis.XReadArgs{
		Streams: []string{s.key(subject), after},
		Count:   int64(maxCount),
		// Block 0 means forever to Redis; a negative value omits BLOCK.
		Block: -1,
	}
	if block > 0 {
		if block < time.Millisecond {
			block = time.Millisecond
		}
		args.Block = block
	}

	res, err := s.db.XRead(args).Result()
	// redis signals an empty read by Nil
	if err == redis.Nil {
		return nil, "", nil
	}
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, "", ctxErr
		}
		if isInvalidID(err) {
			return nil, "", err
		}
		return nil, "", eventlog.Unavailable(err, "xread %q", subject)
	}

	var (
		events []eventlog.Event
		last   string
	)
	for _, stream := range res {
		for _, m := range stream.Messages {
			last = m.ID
			ev, err := decodeMessage(subject, m)
			if err != nil {
				s.logger.Warn("redislog.skip_entry", logpkg.Str("subject", subject), logpkg.Str("id", m.ID), logpkg.Err(err))
				continue
			}
			events = append(events, ev)
		}
	}
	return events, last, nil
}

func decodeMessage(subject string, m redis.XMessage) (eventlog.Event, error) {
	ev := eventlog.Event{
		ID:         eventlog.Cursor(m.ID),
		SubjectKey: subject,
		Type:       eventlog.Kind(stringField(m.Values, fieldType)),
	}
	if ms, err := strconv.ParseInt(stringField(m.Values, fieldTimestamp), 10, 64); err == nil {
		ev.Timestamp = time.UnixMilli(ms).UTC()
	}
	payload, err := eventlog.DecodePayload([]byte(stringField(m.Values, fieldData)))
	if err != nil {
		return eventlog.Event{}, err
	}
	ev.Payload = payload
	return ev, nil
}

func stringField(values map[string]interface{}, k string) string {
	switch v := values[k].(type) {
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return ""
	}
}

func isInvalidID(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.HasPrefix(msg, "err") && strings.Contains(msg, "stream id")
}

// LastCursor returns the newest entry id of subject, or Beginning.
func (s *Store) LastCursor(subject string) (eventlog.Cursor, error) {
	msgs, err := s.db.XRevRangeN(s.key(subject), "+", "-", 1).Result()
	if err != nil && err != redis.Nil {
		return "", eventlog.Unavailable(err, "xrevrange %q", subject)
	}
	if len(msgs) > 0 {
		return eventlog.Cursor(msgs[0].ID), nil
	}
	return eventlog.Beginning, nil
}

// Ping implements eventlog.Log.
func (s *Store) Ping(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := s.db.Ping().Err(); err != nil {
		return eventlog.Unavailable(err, "ping")
	}
	return nil
}

// Close closes the client when the Store owns it.
func (s *Store) Close() error {
	if !s.ownsDB {
		return nil
	}
	s.ownsDB = false
	return errors.Trace(s.db.Close())
}
