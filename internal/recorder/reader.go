package recorder

import (
	"bufio"
	"encoding/binary"
	"io"
)

// ReaderOptions controls record decoding.
type ReaderOptions struct {
	DisableChecksum bool
	MaxPayloadSize  int
}

// Reader decodes tape records sequentially.
type Reader struct {
	r       *bufio.Reader
	opts    ReaderOptions
	header  []byte
	payload []byte
}

// NewReader wraps r with tape decoding.
func NewReader(r io.Reader, opts ReaderOptions) *Reader {
	return &Reader{
		r:      bufio.NewReader(r),
		opts:   opts,
		header: make([]byte, recordHeaderSize),
	}
}

// Next returns the next record. The payload is only valid until the next
// call. A clean end of tape returns io.EOF; a torn tail returns
// io.ErrUnexpectedEOF.
func (r *Reader) Next() (Header, []byte, error) {
	if n, err := io.ReadFull(r.r, r.header); err != nil {
		if err == io.EOF && n == 0 {
			return Header{}, nil, io.EOF
		}
		return Header{}, nil, io.ErrUnexpectedEOF
	}

	h, size, err := decodeHeader(r.header)
	if err != nil {
		return h, nil, err
	}
	if r.opts.MaxPayloadSize > 0 && size > uint32(r.opts.MaxPayloadSize) {
		return h, nil, ErrPayloadTooLarge
	}

	if cap(r.payload) < int(size) {
		r.payload = make([]byte, size)
	}
	r.payload = r.payload[:size]
	if _, err := io.ReadFull(r.r, r.payload); err != nil {
		return h, nil, io.ErrUnexpectedEOF
	}

	var sum [recordChecksumSize]byte
	if _, err := io.ReadFull(r.r, sum[:]); err != nil {
		return h, nil, io.ErrUnexpectedEOF
	}
	if !r.opts.DisableChecksum && binary.LittleEndian.Uint32(sum[:]) != checksum(r.header, r.payload) {
		return h, nil, ErrChecksumMismatch
	}
	return h, r.payload, nil
}
