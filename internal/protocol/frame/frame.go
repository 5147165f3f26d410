package frame

import (
	"encoding/binary"
	"errors"
	"io"
)

const (
	// Magic spells "FDWN" on the wire.
	Magic   uint32 = 0x4644574E
	Version uint16 = 1

	FixedHeaderLen uint16 = 32

	FlagIsResponse uint32 = 0x01
	FlagIsError    uint32 = 0x02
)

var (
	ErrShortHeader        = errors.New("frame: short fixed header")
	ErrInvalidMagic       = errors.New("frame: invalid magic")
	ErrUnsupportedVersion = errors.New("frame: unsupported version")
	ErrInvalidHeaderLen   = errors.New("frame: invalid header length")
	ErrPayloadTooLarge    = errors.New("frame: payload too large")
)

// Header is the fixed wire header preceding every message payload.
type Header struct {
	Magic       uint32
	Version     uint16
	HeaderLen   uint16
	MessageID   uint64
	MessageType uint32
	Flags       uint32
	PayloadLen  uint64
}

// Frame is one complete wire message.
type Frame struct {
	Header  Header
	Payload []byte
}

// Limits constrains decode memory use per message.
type Limits struct {
	MaxPayloadBytes uint64
}

// DefaultLimits caps one message at 100 MiB.
func DefaultLimits() Limits {
	return Limits{MaxPayloadBytes: 100 * 1024 * 1024}
}

// EncodeHeader renders h into its 32-byte wire form.
func EncodeHeader(h Header) []byte {
	buf := make([]byte, FixedHeaderLen)
	binary.BigEndian.PutUint32(buf[0:4], h.Magic)
	binary.BigEndian.PutUint16(buf[4:6], h.Version)
	binary.BigEndian.PutUint16(buf[6:8], h.HeaderLen)
	binary.BigEndian.PutUint64(buf[8:16], h.MessageID)
	binary.BigEndian.PutUint32(buf[16:20], h.MessageType)
	binary.BigEndian.PutUint32(buf[20:24], h.Flags)
	binary.BigEndian.PutUint64(buf[24:32], h.PayloadLen)
	return buf
}

// DecodeHeader parses and validates the 32-byte wire header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) != int(FixedHeaderLen) {
		return Header{}, ErrShortHeader
	}
	h := Header{
		Magic:       binary.BigEndian.Uint32(buf[0:4]),
		Version:     binary.BigEndian.Uint16(buf[4:6]),
		HeaderLen:   binary.BigEndian.Uint16(buf[6:8]),
		MessageID:   binary.BigEndian.Uint64(buf[8:16]),
		MessageType: binary.BigEndian.Uint32(buf[16:20]),
		Flags:       binary.BigEndian.Uint32(buf[20:24]),
		PayloadLen:  binary.BigEndian.Uint64(buf[24:32]),
	}
	if h.Magic != Magic {
		return Header{}, ErrInvalidMagic
	}
	if h.Version != Version {
		return Header{}, ErrUnsupportedVersion
	}
	if h.HeaderLen != FixedHeaderLen {
		return Header{}, ErrInvalidHeaderLen
	}
	return h, nil
}

// WriteFrame writes one complete message to w.
func WriteFrame(w io.Writer, f Frame, limits Limits) error {
	if uint64(len(f.Payload)) > limits.MaxPayloadBytes {
		return ErrPayloadTooLarge
	}
	head := f.Header
	head.Magic = Magic
	head.Version = Version
	head.HeaderLen = FixedHeaderLen
	head.PayloadLen = uint64(len(f.Payload))
	if _, err := w.Write(EncodeHeader(head)); err != nil {
		return err
	}
	if len(f.Payload) == 0 {
		return nil
	}
	_, err := w.Write(f.Payload)
	return err
}

// ReadFrame reads one complete message from r.
func ReadFrame(r io.Reader, limits Limits) (Frame, error) {
	var fixed [32]byte
	if _, err := io.ReadFull(r, fixed[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Frame{}, ErrShortHeader
		}
		return Frame{}, err
	}

	h, err := DecodeHeader(fixed[:])
	if err != nil {
		return Frame{}, err
	}
	if h.PayloadLen > limits.MaxPayloadBytes {
		return Frame{}, ErrPayloadTooLarge
	}

	payload := make([]byte, h.PayloadLen)
	if h.PayloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{Header: h, Payload: payload}, nil
}
