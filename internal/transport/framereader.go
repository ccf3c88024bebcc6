package transport

import (
	"io"

	"github.com/na4wx/nexdigi/internal/wire"
)

// frameReader consumes length-delimited backbone packets from a stream
// (spec §4.6: "the receiver buffers bytes until it holds ≥ 64 header
// bytes, decodes, then consumes header+payload and repeats. On codec
// failure that is not 'need more bytes', advance the read cursor by one
// byte and resynchronize").
type frameReader struct {
	r   io.Reader
	buf []byte
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{r: r}
}

// nextRaw returns the next decoded packet along with the exact raw bytes
// it was decoded from (so the server-mode relay path can forward them
// byte-for-byte without a re-encode round trip).
func (f *frameReader) nextRaw() (raw []byte, p wire.Packet, err error) {
	chunk := make([]byte, 4096)

	for {
		if len(f.buf) >= wire.HeaderSize {
			payloadLen, err := wire.PeekPayloadLen(f.buf)
			if err == nil && uint64(wire.HeaderSize)+uint64(payloadLen) <= uint64(len(f.buf)) {
				frameLen := wire.HeaderSize + int(payloadLen)
				frame := f.buf[:frameLen]

				decoded, decErr := wire.Decode(frame)
				if decErr == nil {
					raw = append([]byte(nil), frame...)
					f.buf = f.buf[frameLen:]
					return raw, decoded, nil
				}

				// Codec failure with a full-length frame in hand is not
				// "need more bytes" — resynchronize by dropping one byte.
				f.buf = f.buf[1:]
				continue
			}
		}

		n, readErr := f.r.Read(chunk)
		if n > 0 {
			f.buf = append(f.buf, chunk[:n]...)
		}
		if readErr != nil {
			return nil, wire.Packet{}, readErr
		}
	}
}
