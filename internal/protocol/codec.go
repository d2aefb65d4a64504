package protocol

import (
	"encoding/binary"

	"github.com/fxamacker/cbor/v2"
	"github.com/hpgtool/hpg/internal/hpgerr"
)

// headerSize is the length prefix: an unsigned 64-bit little-endian count
// of the payload bytes that follow.
const headerSize = 8

// EncodeFrame serialises msg and prepends its length header.
func EncodeFrame(msg Message) ([]byte, error) {
	var payload, err = cbor.Marshal(msg)
	if err != nil {
		return nil, hpgerr.Wrap(hpgerr.Transport, err, "encoding message")
	}
	var frame = make([]byte, headerSize, headerSize+len(payload))
	binary.LittleEndian.PutUint64(frame, uint64(len(payload)))
	return append(frame, payload...), nil
}

// Decoder incrementally decodes frames from an append-only byte buffer.
// Feed bytes with Write as they arrive; Next returns a decoded message,
// or nil when more bytes are needed for a complete frame.
type Decoder struct {
	buf []byte
}

// Write appends raw stream bytes to the decode buffer.
func (d *Decoder) Write(p []byte) {
	if need := len(d.buf) + len(p); need > cap(d.buf) && len(d.buf) >= headerSize {
		// Reserve through the full frame so repeated partial writes of a
		// large payload don't re-grow the buffer each time.
		var length = binary.LittleEndian.Uint64(d.buf)
		if total := headerSize + int(length); total > need {
			var grown = make([]byte, len(d.buf), total)
			copy(grown, d.buf)
			d.buf = grown
		}
	}
	d.buf = append(d.buf, p...)
}

// Next decodes the next complete frame. It returns (nil, nil) when the
// buffer holds only a partial frame. A malformed payload surfaces a typed
// deserialisation error; the frame itself is consumed so the stream does
// not wedge, but the connection is not otherwise advanced.
func (d *Decoder) Next() (*Message, error) {
	if len(d.buf) < headerSize {
		return nil, nil
	}
	var length = binary.LittleEndian.Uint64(d.buf)
	if uint64(len(d.buf)-headerSize) < length {
		return nil, nil
	}
	var payload = d.buf[headerSize : headerSize+int(length)]
	var msg Message
	var err = cbor.Unmarshal(payload, &msg)
	d.buf = d.buf[headerSize+int(length):]
	if err != nil {
		return nil, hpgerr.Wrap(hpgerr.Transport, err, "decoding message")
	}
	return &msg, nil
}
