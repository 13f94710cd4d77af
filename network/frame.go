package network

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"

	"github.com/opencanarias-go/subjectchain/dispatch"
)

// maxFrameSize bounds a single inbound frame, guarding against a peer that
// announces an unreasonable length prefix before ever sending that much
// data.
const maxFrameSize = 16 << 20 // 16 MiB

// writeFrame writes env as a 4-byte big-endian length prefix followed by
// its JSON encoding.
func writeFrame(w io.Writer, env dispatch.Envelope) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("network: encode frame: %w", err)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(payload)
	return err
}

// readFrame reads one length-prefixed envelope from r.
func readFrame(r io.Reader) (dispatch.Envelope, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return dispatch.Envelope{}, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if size == 0 || size > maxFrameSize {
		return dispatch.Envelope{}, fmt.Errorf("%w: frame size %d out of bounds", ErrInvalidPayload, size)
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return dispatch.Envelope{}, err
	}
	var env dispatch.Envelope
	if err := json.Unmarshal(buf, &env); err != nil {
		return dispatch.Envelope{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return env, nil
}
