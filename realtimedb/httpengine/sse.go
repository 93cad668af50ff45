package httpengine

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
)

const (
	frameEventPut         = "put"
	frameEventPatch       = "patch"
	frameEventKeepAlive   = "keep-alive"
	frameEventCancel      = "cancel"
	frameEventAuthRevoked = "auth_revoked"
	frameFieldEvent       = "event"
	frameFieldData        = "data"
	frameReaderBufferSize = 64 * 1024
	defaultMaxFrameBytes  = 16 * 1024 * 1024
)

var errFrameTooLarge = fmt.Errorf("%w: frame exceeds the size limit", errMalformedFrame)

// frame is one server-sent event: an event name and its (possibly multi-line) data.
type frame struct {
	event string
	data  []byte
}

// frameReader splits an event stream into frames.
//
// Lines end with \n or \r\n. A blank line ends a frame, lines starting with ':' are comments,
// multiple data lines are joined with \n, and fields other than event and data are ignored.
// A frame cut off by the end of the stream is dropped.
//
// Neither a single line nor the data of a frame may exceed maxBytes. The stream cannot be resynchronized
// after such a frame, so next fails with errFrameTooLarge.
type frameReader struct {
	r        *bufio.Reader
	maxBytes int
	line     []byte
}

func newFrameReader(r io.Reader, maxBytes int) *frameReader {
	if maxBytes <= 0 {
		maxBytes = defaultMaxFrameBytes
	}

	return &frameReader{
		r:        bufio.NewReaderSize(r, min(frameReaderBufferSize, maxBytes)),
		maxBytes: maxBytes,
	}
}

// next blocks until a complete frame is read or the stream fails. At the end of the stream it returns io.EOF.
func (fr *frameReader) next() (frame, error) {
	var (
		f        frame
		data     bytes.Buffer
		hasData  bool
		hasField bool
	)

	for {
		line, err := fr.readLine()
		if err != nil {
			return frame{}, err
		}

		line = bytes.TrimSuffix(line, []byte("\n"))
		line = bytes.TrimSuffix(line, []byte("\r"))

		if len(line) == 0 {
			if !hasField {
				continue
			}

			f.data = data.Bytes()

			return f, nil
		}

		if line[0] == ':' {
			continue
		}

		field, value, _ := bytes.Cut(line, []byte(":"))
		value = bytes.TrimPrefix(value, []byte(" "))

		switch string(field) {
		case frameFieldEvent:
			f.event = string(value)
			hasField = true
		case frameFieldData:
			if data.Len()+len(value)+1 > fr.maxBytes {
				return frame{}, errFrameTooLarge
			}
			if hasData {
				data.WriteByte('\n')
			}
			data.Write(value)
			hasData = true
			hasField = true
		default:
			// id, retry and unknown fields carry nothing we use
		}
	}
}

// readLine returns the next line including its terminator. The returned slice is reused by the next call.
func (fr *frameReader) readLine() ([]byte, error) {
	fr.line = fr.line[:0]

	for {
		chunk, err := fr.r.ReadSlice('\n')
		if len(fr.line)+len(chunk) > fr.maxBytes {
			return nil, errFrameTooLarge
		}

		fr.line = append(fr.line, chunk...)

		switch {
		case err == nil:
			return fr.line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			if len(fr.line) >= fr.maxBytes {
				return nil, errFrameTooLarge
			}
		default:
			return nil, err
		}
	}
}
