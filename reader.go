package dlt

import (
	"errors"
	"io"
)

// MaxMessageSize is the largest message on the wire, serial header included.
const MaxMessageSize = SerialHeaderSize + maxLen

// ErrMessageTooLarge is returned by ReadMessage when a message does not fit
// the caller's buffer. The stream is out of sync afterwards.
var ErrMessageTooLarge = errors.New("dlt: message exceeds buffer")

// ReadMessage reads exactly one message from r into buf and returns its
// size. With serial set every message must start with "DLS\x01". A clean end
// of stream before the first byte yields io.EOF, a truncated message
// io.ErrUnexpectedEOF.
func ReadMessage(r io.Reader, buf []byte, serial bool) (int, error) {
	prefix := StandardHeaderSize
	if serial {
		prefix += SerialHeaderSize
	}
	if len(buf) < prefix {
		return 0, ErrMessageTooLarge
	}
	if _, err := io.ReadFull(r, buf[:prefix]); err != nil {
		return 0, err
	}
	if _, err := (ParseOptions{RequireSerialHeader: serial}).serialHeader(buf[:prefix]); err != nil {
		return 0, err
	}
	size, err := MessageSize(buf[:prefix])
	if err != nil {
		return 0, err
	}
	if size > len(buf) {
		return 0, ErrMessageTooLarge
	}
	if _, err := io.ReadFull(r, buf[prefix:size]); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return 0, err
	}
	return size, nil
}
