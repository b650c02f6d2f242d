// Package wire implements the fixed packet envelope shared by the Reflex
// and Face MCU links: [type:u8][seq:u8][payload:N][crc16:u16-LE], COBS
// encoded with a single 0x00 frame delimiter.
package wire

import (
	"encoding/binary"
	"errors"

	"github.com/jangala-dev/robot-supervisor/cobs"
	"github.com/jangala-dev/robot-supervisor/crc16"
)

// MaxPayload bounds a single frame's payload; the largest command on
// either wire (SET_CONFIG) carries 5 bytes, telemetry carries up to 13,
// so this leaves generous headroom while still bounding allocations.
const MaxPayload = 64

// ErrShortPacket is returned when a decoded frame is too small to hold
// type, seq and CRC.
var ErrShortPacket = errors.New("wire: short packet")

// ErrCRC is returned when the trailing CRC does not match the computed
// checksum over type, seq and payload.
var ErrCRC = errors.New("wire: crc mismatch")

// ErrPayloadTooLarge is returned by Build when payload exceeds MaxPayload.
var ErrPayloadTooLarge = errors.New("wire: payload too large")

// Packet is a parsed, validated frame.
type Packet struct {
	Type    byte
	Seq     byte
	Payload []byte
}

// Build assembles type, seq and payload into a COBS-framed byte slice
// ready to write to the serial link, including the trailing 0x00
// delimiter.
func Build(typ, seq byte, payload []byte) ([]byte, error) {
	if len(payload) > MaxPayload {
		return nil, ErrPayloadTooLarge
	}
	raw := make([]byte, 0, 2+len(payload)+2)
	raw = append(raw, typ, seq)
	raw = append(raw, payload...)
	crc := crc16.Checksum(raw)
	var crcBuf [2]byte
	binary.LittleEndian.PutUint16(crcBuf[:], crc)
	raw = append(raw, crcBuf[:]...)

	enc := cobs.Encode(raw)
	enc = append(enc, 0x00)
	return enc, nil
}

// Parse decodes a single COBS-encoded frame (without its trailing 0x00
// delimiter, which callers strip while splitting the byte stream) into a
// Packet, verifying the CRC.
func Parse(frame []byte) (Packet, error) {
	raw, err := cobs.Decode(frame)
	if err != nil {
		return Packet{}, err
	}
	if len(raw) < 4 {
		return Packet{}, ErrShortPacket
	}
	body := raw[:len(raw)-2]
	gotCRC := binary.LittleEndian.Uint16(raw[len(raw)-2:])
	wantCRC := crc16.Checksum(body)
	if gotCRC != wantCRC {
		return Packet{}, ErrCRC
	}
	payload := append([]byte(nil), body[2:]...)
	return Packet{Type: body[0], Seq: body[1], Payload: payload}, nil
}
