package id

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"math"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/errors"
)

// ID is a sortable session identifier.
type ID [16]byte

// Zero is the zero ID.
var Zero ID

// String returns the 32 digit lowercase hex form.
func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Time returns the creation time encoded in the ID.
func (i ID) Time() time.Time {
	return time.UnixMilli(int64(binary.BigEndian.Uint64(i[:8]))).UTC()
}

// Seq returns the per-millisecond sequence.
func (i ID) Seq() uint64 { return binary.BigEndian.Uint64(i[8:]) }

// Compare returns -1, 0 or 1.
func (i ID) Compare(other ID) int { return bytes.Compare(i[:], other[:]) }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Parse reads the hex form produced by String.
func Parse(s string) (ID, error) {
	var i ID
	if len(s) != hex.EncodedLen(len(i)) {
		return Zero, errors.NotValidf("session id %q", s)
	}
	if _, err := hex.Decode(i[:], []byte(s)); err != nil {
		return Zero, errors.NewNotValid(err, "session id "+s)
	}
	return i, nil
}

// Generator hands out increasing IDs. It is safe for concurrent use.
type Generator struct {
	clock clock.Clock

	mu     sync.Mutex
	lastMs int64
	seq    uint64
}

// NewGenerator returns a Generator reading time from c, or the wall clock
// when c is nil.
func NewGenerator(c clock.Clock) *Generator {
	if c == nil {
		c = clock.WallClock
	}
	return &Generator{clock: c}
}

// Next returns an ID greater than every ID returned before. A clock that
// steps backwards reuses the last millisecond; an exhausted sequence waits
// for the next one.
func (g *Generator) Next() ID {
	g.mu.Lock()
	defer g.mu.Unlock()

	ms := g.clock.Now().UnixMilli()
	switch {
	case ms > g.lastMs:
		g.seq = 0
	case g.seq < math.MaxUint64:
		ms = g.lastMs
		g.seq++
	default:
		for ms <= g.lastMs {
			<-g.clock.After(time.Millisecond)
			ms = g.clock.Now().UnixMilli()
		}
		g.seq = 0
	}
	g.lastMs = ms

	var i ID
	binary.BigEndian.PutUint64(i[:8], uint64(ms))
	binary.BigEndian.PutUint64(i[8:], g.seq)
	return i
}
