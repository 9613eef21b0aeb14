package protocol

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	// ErrStringTooLong indicates a string that does not fit its length
	// prefix. The store rejects oversized values before they reach a
	// codec, so hitting this is an internal invariant violation.
	ErrStringTooLong = errors.New("string exceeds length-prefix capacity")

	// ErrListTooLong indicates a list that does not fit its 1-byte count.
	ErrListTooLong = errors.New("list exceeds count-prefix capacity")
)

// ReadUint8 reads a single byte.
func ReadUint8(r io.Reader) (uint8, error) {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// ReadUint16 reads a big-endian uint16.
func ReadUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(buf[:]), nil
}

// ReadUint32 reads a big-endian uint32.
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(buf[:]), nil
}

// WriteUint8 writes a single byte.
func WriteUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

// WriteUint16 writes a big-endian uint16.
func WriteUint16(w io.Writer, v uint16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// WriteUint32 writes a big-endian uint32.
func WriteUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

// ReadString reads a length-prefixed UTF-8 string. lenBytes selects the
// prefix width (1, 2, or 4 bytes, big-endian). A zero length yields the
// empty string without a read.
func ReadString(r io.Reader, lenBytes int) (string, error) {
	var length int
	switch lenBytes {
	case 1:
		v, err := ReadUint8(r)
		if err != nil {
			return "", err
		}
		length = int(v)
	case 2:
		v, err := ReadUint16(r)
		if err != nil {
			return "", err
		}
		length = int(v)
	case 4:
		v, err := ReadUint32(r)
		if err != nil {
			return "", err
		}
		length = int(v)
	default:
		panic("protocol: invalid string length-prefix width")
	}
	if length == 0 {
		return "", nil
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// WriteString writes a length-prefixed UTF-8 string with the given
// prefix width. Returns ErrStringTooLong if the string does not fit.
func WriteString(w io.Writer, s string, lenBytes int) error {
	b := []byte(s)
	switch lenBytes {
	case 1:
		if len(b) > 0xFF {
			return ErrStringTooLong
		}
		if err := WriteUint8(w, uint8(len(b))); err != nil {
			return err
		}
	case 2:
		if len(b) > 0xFFFF {
			return ErrStringTooLong
		}
		if err := WriteUint16(w, uint16(len(b))); err != nil {
			return err
		}
	case 4:
		if err := WriteUint32(w, uint32(len(b))); err != nil {
			return err
		}
	default:
		panic("protocol: invalid string length-prefix width")
	}
	if len(b) == 0 {
		return nil
	}
	_, err := w.Write(b)
	return err
}
