package pebblelog

import (
	"context"
	"encoding/binary"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/juju/errors"

	"github.com/drewthekiiid/pipai-sub002/internal/eventlog"
	pebblestore "github.com/drewthekiiid/pipai-sub002/internal/storage/pebble"
	logpkg "github.com/drewthekiiid/pipai-sub002/pkg/log"
)

// Options tunes a Store.
type Options struct {
	// MaxLen keeps the newest MaxLen entries per subject; 0 keeps all.
	MaxLen int
	Logger logpkg.Logger
}

// Store is an eventlog.Log persisted in Pebble. Cursors are decimal
// sequence numbers starting at 1.
type Store struct {
	db     *pebblestore.DB
	ownsDB bool
	maxLen int
	logger logpkg.Logger

	mu       sync.Mutex
	subjects map[string]*subjectState
	closed   bool
	closeCh  chan struct{}
}

type subjectState struct {
	lastSeq uint64
	// notifyCh is closed and replaced on every append.
	notifyCh chan struct{}
}

var _ eventlog.Log = (*Store)(nil)

// New builds a Store over an already open database. Close does not close db.
func New(db *pebblestore.DB, opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = logpkg.NewNop()
	}
	return &Store{
		db:       db,
		maxLen:   opts.MaxLen,
		logger:   logger.With(logpkg.Component("pebblelog")),
		subjects: make(map[string]*subjectState),
		closeCh:  make(chan struct{}),
	}
}

// Open opens a database at dbOpts.DataDir and builds a Store that owns it.
func Open(dbOpts pebblestore.Options, opts Options) (*Store, error) {
	db, err := pebblestore.Open(dbOpts)
	if err != nil {
		return nil, errors.Trace(err)
	}
	s := New(db, opts)
	s.ownsDB = true
	return s, nil
}

// state returns the in-memory state of subject, loading the last sequence
// from metadata on first use. Callers hold s.mu.
func (s *Store) state(subject string) (*subjectState, error) {
	if st, ok := s.subjects[subject]; ok {
		return st, nil
	}
	st := &subjectState{notifyCh: make(chan struct{})}
	meta, err := s.db.Get(keyMeta(subject))
	switch {
	case err == nil && len(meta) >= 8:
		st.lastSeq = binary.BigEndian.Uint64(meta[:8])
	case err != nil && !errors.Is(err, errors.NotFound):
		return nil, s.unavailable(err, "load %q", subject)
	}
	s.subjects[subject] = st
	return st, nil
}

// Append implements eventlog.Log.
func (s *Store) Append(ctx context.Context, subject string, ev eventlog.Event) (eventlog.Cursor, error) {
	if err := validateSubject(subject); err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", eventlog.ErrUnavailable
	}
	st, err := s.state(subject)
	if err != nil {
		return "", err
	}
	seq := st.lastSeq + 1

	b := s.db.NewBatch()
	defer b.Close()
	if err := b.Set(keyEntry(subject, seq), encodeRecord(ts, ev.Type, payload), nil); err != nil {
		return "", errors.Trace(err)
	}
	var meta [8]byte
	binary.BigEndian.PutUint64(meta[:], seq)
	if err := b.Set(keyMeta(subject), meta[:], nil); err != nil {
		return "", errors.Trace(err)
	}
	if s.maxLen > 0 && seq > uint64(s.maxLen) {
		oldestKept := seq - uint64(s.maxLen) + 1
		if err := b.DeleteRange(keyEntry(subject, 0), keyEntry(subject, oldestKept), nil); err != nil {
			return "", errors.Trace(err)
		}
	}
	if err := s.db.CommitBatch(ctx, b); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", s.unavailable(err, "append %q", subject)
	}

	st.lastSeq = seq
	close(st.notifyCh)
	st.notifyCh = make(chan struct{})
	return formatCursor(seq), nil
}

// ReadAfter implements eventlog.Log.
func (s *Store) ReadAfter(ctx context.Context, subject string, cursor eventlog.Cursor, block time.Duration, maxCount int) ([]eventlog.Event, error) {
	if err := validateSubject(subject); err != nil {
		return nil, err
	}
	after, err := parseCursor(cursor)
	if err != nil {
		return nil, err
	}
	if maxCount <= 0 {
		maxCount = 100
	}
	if after == math.MaxUint64 {
		return nil, nil
	}

	var timer *time.Timer
	for {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return nil, eventlog.ErrUnavailable
		}
		st, err := s.state(subject)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		// Captured before scanning so an append racing the scan still wakes us.
		wake := st.notifyCh
		s.mu.Unlock()

		events, err := s.scan(subject, after, maxCount)
		if err != nil {
			return nil, err
		}
		if len(events) > 0 || block <= 0 {
			return events, nil
		}

		if timer == nil {
			timer = time.NewTimer(block)
			defer timer.Stop()
		}
		select {
		case <-wake:
		case <-timer.C:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-s.closeCh:
			return nil, eventlog.ErrUnavailable
		}
	}
}

func (s *Store) scan(subject string, after uint64, maxCount int) ([]eventlog.Event, error) {
	var events []eventlog.Event
	err := s.db.Scan(keyEntry(subject, after+1), keyEntryEnd(subject), maxCount, func(k, v []byte) bool {
		seq := seqFromEntryKey(k)
		rec, err := decodeRecord(v)
		if err != nil {
			s.logger.Warn("pebblelog.skip_corrupt", logpkg.Str("subject", subject), logpkg.Uint64("seq", seq))
			return true
		}
		payload, err := eventlog.DecodePayload(rec.payload)
		if err != nil {
			s.logger.Warn("pebblelog.skip_payload", logpkg.Str("subject", subject), logpkg.Uint64("seq", seq), logpkg.Err(err))
			return true
		}
		events = append(events, eventlog.Event{
			ID:         formatCursor(seq),
			SubjectKey: subject,
			Timestamp:  rec.ts,
			Type:       rec.kind,
			Payload:    payload,
		})
		return true
	})
	if err != nil {
		return nil, s.unavailable(err, "read %q", subject)
	}
	return events, nil
}

// LastCursor returns the newest cursor of subject, or Beginning.
func (s *Store) LastCursor(subject string) (eventlog.Cursor, error) {
	if err := validateSubject(subject); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", eventlog.ErrUnavailable
	}
	st, err := s.state(subject)
	if err != nil {
		return "", err
	}
	return formatCursor(st.lastSeq), nil
}

// Ping implements eventlog.Log.
func (s *Store) Ping(context.Context) error {
	if err := s.db.Ping(); err != nil {
		return s.unavailable(err, "ping")
	}
	return nil
}

// Close wakes blocked readers and, when the Store owns it, closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.closeCh)
	s.mu.Unlock()
	if s.ownsDB {
		return errors.Trace(s.db.Close())
	}
	return nil
}

func (s *Store) unavailable(err error, format string, args ...any) error {
	return eventlog.Unavailable(err, format, args...)
}

func formatCursor(seq uint64) eventlog.Cursor {
	return eventlog.Cursor(strconv.FormatUint(seq, 10))
}

func parseCursor(c eventlog.Cursor) (uint64, error) {
	c = eventlog.NormalizeCursor(c)
	seq, err := strconv.ParseUint(string(c), 10, 64)
	if err != nil {
		return 0, errors.NotValidf("cursor %q", c)
	}
	return seq, nil
}
