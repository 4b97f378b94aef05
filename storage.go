package dlt

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"time"
)

// ErrInvalidStorageHeader is returned for a storage header without the
// "DLT\x01" magic.
var ErrInvalidStorageHeader = errors.New("dlt: invalid storage header")

// StorageHeader precedes every message in a .dlt file. Its fields are little
// endian.
type StorageHeader struct {
	Seconds      uint32
	Microseconds uint32
	ECU          ID
}

// NewStorageHeader stamps ecu with t.
func NewStorageHeader(t time.Time, ecu ID) StorageHeader {
	return StorageHeader{
		Seconds:      uint32(t.Unix()),
		Microseconds: uint32(t.Nanosecond() / int(time.Microsecond)),
		ECU:          ecu,
	}
}

// Time returns the reception time.
func (h StorageHeader) Time() time.Time {
	return time.Unix(int64(h.Seconds), int64(h.Microseconds)*int64(time.Microsecond))
}

// Marshal writes h into dst.
func (h StorageHeader) Marshal(dst []byte) (int, error) {
	if len(dst) < StorageHeaderSize {
		return 0, EncodeBufferTooSmall
	}
	copy(dst, storageHeaderPattern[:])
	binary.LittleEndian.PutUint32(dst[4:8], h.Seconds)
	binary.LittleEndian.PutUint32(dst[8:12], h.Microseconds)
	copy(dst[12:16], h.ECU[:])
	return StorageHeaderSize, nil
}

func ParseStorageHeader(b []byte) (StorageHeader, error) {
	if len(b) < StorageHeaderSize {
		return StorageHeader{}, HeaderBufferTooSmall
	}
	if [4]byte(b[0:4]) != storageHeaderPattern {
		return StorageHeader{}, ErrInvalidStorageHeader
	}
	h := StorageHeader{
		Seconds:      binary.LittleEndian.Uint32(b[4:8]),
		Microseconds: binary.LittleEndian.Uint32(b[8:12]),
	}
	copy(h.ECU[:], b[12:16])
	return h, nil
}

// StorageReader iterates the messages of a .dlt file.
//
//	r := dlt.NewStorageReader(f)
//	for r.Next() {
//		msg, err := r.Message()
//		...
//	}
//	if err := r.Err(); err != nil { ... }
type StorageReader struct {
	r   *bufio.Reader
	buf []byte
	n   int
	hdr StorageHeader
	err error
}

func NewStorageReader(r io.Reader) *StorageReader {
	return &StorageReader{
		r:   bufio.NewReader(r),
		buf: make([]byte, MaxMessageSize),
	}
}

// Next advances to the next message. It returns false at the end of the file
// or on the first error.
func (s *StorageReader) Next() bool {
	if s.err != nil {
		return false
	}
	var h [StorageHeaderSize]byte
	if _, err := io.ReadFull(s.r, h[:]); err != nil {
		if err != io.EOF {
			s.err = err
		}
		return false
	}
	if s.hdr, s.err = ParseStorageHeader(h[:]); s.err != nil {
		return false
	}
	if s.n, s.err = ReadMessage(s.r, s.buf, false); s.err != nil {
		if s.err == io.EOF {
			s.err = io.ErrUnexpectedEOF
		}
		return false
	}
	return true
}

// Header returns the storage header of the current message.
func (s *StorageReader) Header() StorageHeader { return s.hdr }

// Bytes returns the current message. It is overwritten by the next call to
// Next.
func (s *StorageReader) Bytes() []byte { return s.buf[:s.n] }

// Message parses the current message.
func (s *StorageReader) Message() (Message, error) { return ParseMessage(s.Bytes()) }

// Err returns the first error other than io.EOF.
func (s *StorageReader) Err() error { return s.err }

// StorageWriter appends messages with their storage headers.
type StorageWriter struct {
	w   io.Writer
	hdr [StorageHeaderSize]byte
}

func NewStorageWriter(w io.Writer) *StorageWriter {
	return &StorageWriter{w: w}
}

// Write stores msg, which must not carry a serial header.
func (s *StorageWriter) Write(h StorageHeader, msg []byte) error {
	h.Marshal(s.hdr[:])
	if _, err := s.w.Write(s.hdr[:]); err != nil {
		return err
	}
	_, err := s.w.Write(msg)
	return err
}
