package recorder

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"

	"github.com/yanun0323/errors"

	"tradecore/internal/model/enum"
)

const (
	recordVersion      uint16 = 1
	recordHeaderSize          = 32
	recordChecksumSize        = 4
)

var (
	recordMagic = [4]byte{'T', 'A', 'P', '1'}
	crcTable    = crc32.MakeTable(crc32.Castagnoli)
)

var (
	ErrInvalidMagic         = errors.New("tape: invalid magic")
	ErrUnsupportedRecordVer = errors.New("tape: unsupported record version")
	ErrInvalidHeaderSize    = errors.New("tape: invalid header size")
	ErrChecksumMismatch     = errors.New("tape: checksum mismatch")
)

// Header describes one taped event. The payload is a codec envelope.
type Header struct {
	Kind enum.EventKind
	Seq  uint64
	// RecvNano is the wall clock, in unix nanoseconds, the event was taped at.
	RecvNano int64
}

// Layout, little endian:
//
//	magic[4] version u16 headerSize u16 kind u16 reserved u16
//	payloadLen u32 seq u64 recvNano i64 | payload | crc32c u32
func encodeHeader(dst []byte, h Header, payloadLen int) {
	_ = dst[recordHeaderSize-1]
	copy(dst[0:4], recordMagic[:])
	binary.LittleEndian.PutUint16(dst[4:6], recordVersion)
	binary.LittleEndian.PutUint16(dst[6:8], uint16(recordHeaderSize))
	binary.LittleEndian.PutUint16(dst[8:10], uint16(h.Kind))
	binary.LittleEndian.PutUint16(dst[10:12], 0)
	binary.LittleEndian.PutUint32(dst[12:16], uint32(payloadLen))
	binary.LittleEndian.PutUint64(dst[16:24], h.Seq)
	binary.LittleEndian.PutUint64(dst[24:32], uint64(h.RecvNano))
}

func checksum(header, payload []byte) uint32 {
	crc := crc32.Update(0, crcTable, header)
	return crc32.Update(crc, crcTable, payload)
}

func decodeHeader(src []byte) (Header, uint32, error) {
	if len(src) < recordHeaderSize {
		return Header{}, 0, ErrInvalidHeaderSize
	}
	if !bytes.Equal(src[0:4], recordMagic[:]) {
		return Header{}, 0, ErrInvalidMagic
	}
	if v := binary.LittleEndian.Uint16(src[4:6]); v != recordVersion {
		return Header{}, 0, ErrUnsupportedRecordVer
	}
	if size := binary.LittleEndian.Uint16(src[6:8]); size != recordHeaderSize {
		return Header{}, 0, ErrInvalidHeaderSize
	}
	h := Header{
		Kind:     enum.EventKind(binary.LittleEndian.Uint16(src[8:10])),
		Seq:      binary.LittleEndian.Uint64(src[16:24]),
		RecvNano: int64(binary.LittleEndian.Uint64(src[24:32])),
	}
	return h, binary.LittleEndian.Uint32(src[12:16]), nil
}
