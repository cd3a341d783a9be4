package net

import (
	"encoding/binary"
	"io"
)

// MaxFrameSize caps the announced payload length. Changesets are row edits
// to a small relational store; anything past this is a corrupt or hostile
// length prefix.
const MaxFrameSize = 1 << 30

// WriteFrame writes one message: a u64 little-endian byte count followed by
// the payload.
func WriteFrame(w io.Writer, payload []byte) error {
	var length [8]byte
	binary.LittleEndian.PutUint64(length[:], uint64(len(payload)))

	if _, err := w.Write(length[:]); err != nil {
		return err
	}
	if _, err := w.Write(payload); err != nil {
		return err
	}
	return nil
}

// ReadFrame reads one message in full, blocking until all announced bytes
// arrive. A short stream or a length past MaxFrameSize yields a
// FramingError.
func ReadFrame(r io.Reader) ([]byte, error) {
	var length [8]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, &FramingError{Reason: "reading length prefix", Err: err}
	}

	size := binary.LittleEndian.Uint64(length[:])
	if size > MaxFrameSize {
		return nil, &FramingError{Reason: "length prefix exceeds frame limit"}
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, &FramingError{Reason: "reading payload", Err: err}
	}

	return payload, nil
}
