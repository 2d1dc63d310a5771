package pebblelog

import (
	"encoding/binary"
	"math"

	"github.com/juju/errors"
)

// Keyspace (byte-wise, lexicographically sortable):
//   - s/{len_be2}{subject}/m            last assigned sequence
//   - s/{len_be2}{subject}/e/{seq_be8}  entries
//
// The length prefix keeps subjects that share a prefix from interleaving.

var (
	subjectPrefix = []byte("s/")
	metaSuffix    = []byte("/m")
	entrySeg      = []byte("/e/")
)

const maxSubjectLen = math.MaxUint16

func validateSubject(subject string) error {
	if subject == "" {
		return errors.NotValidf("empty subject key")
	}
	if len(subject) > maxSubjectLen {
		return errors.NotValidf("subject key of %d bytes", len(subject))
	}
	return nil
}

func appendSubject(dst []byte, subject string) []byte {
	dst = append(dst, subjectPrefix...)
	dst = binary.BigEndian.AppendUint16(dst, uint16(len(subject)))
	return append(dst, subject...)
}

func keyMeta(subject string) []byte {
	k := make([]byte, 0, len(subject)+8)
	k = appendSubject(k, subject)
	return append(k, metaSuffix...)
}

func keyEntry(subject string, seq uint64) []byte {
	k := make([]byte, 0, len(subject)+16)
	k = appendSubject(k, subject)
	k = append(k, entrySeg...)
	return binary.BigEndian.AppendUint64(k, seq)
}

// keyEntryEnd is the exclusive upper bound of a subject's entries.
func keyEntryEnd(subject string) []byte {
	return append(keyEntry(subject, math.MaxUint64), 0x00)
}

func seqFromEntryKey(k []byte) uint64 {
	if len(k) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(k[len(k)-8:])
}
