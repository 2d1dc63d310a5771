package pebblelog

import (
	"encoding/binary"
	"hash/crc32"
	"time"

	"github.com/juju/errors"

	"github.com/drewthekiiid/pipai-sub002/internal/eventlog"
)

// Record encoding: varint headerLen | header | payload | crc32c(header|payload)
// Header: ts_ms_be8 | kind

const errCorrupt = errors.ConstError("corrupt event record")

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func encodeRecord(ts time.Time, kind eventlog.Kind, payload []byte) []byte {
	header := make([]byte, 0, 8+len(kind))
	header = binary.BigEndian.AppendUint64(header, uint64(ts.UnixMilli()))
	header = append(header, kind...)

	out := make([]byte, 0, binary.MaxVarintLen64+len(header)+len(payload)+4)
	out = binary.AppendUvarint(out, uint64(len(header)))
	out = append(out, header...)
	out = append(out, payload...)

	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	return binary.BigEndian.AppendUint32(out, crc)
}

type decoded struct {
	ts      time.Time
	kind    eventlog.Kind
	payload []byte
}

func decodeRecord(b []byte) (decoded, error) {
	hlen, n := binary.Uvarint(b)
	if n <= 0 || hlen < 8 || uint64(n)+hlen+4 > uint64(len(b)) {
		return decoded{}, errCorrupt
	}
	header := b[n : n+int(hlen)]
	payload := b[n+int(hlen) : len(b)-4]
	crc := crc32.Update(0, castagnoli, header)
	crc = crc32.Update(crc, castagnoli, payload)
	if crc != binary.BigEndian.Uint32(b[len(b)-4:]) {
		return decoded{}, errCorrupt
	}
	return decoded{
		ts:      time.UnixMilli(int64(binary.BigEndian.Uint64(header[:8]))).UTC(),
		kind:    eventlog.Kind(header[8:]),
		payload: append([]byte(nil), payload...),
	}, nil
}
