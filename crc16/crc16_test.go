package crc16

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Known-answer test vector for CRC-16/CCITT-FALSE (poly 0x1021, init 0xFFFF).
func TestChecksumKnownVector(t *testing.T) {
	require.Equal(t, uint16(0x29B1), Checksum([]byte("123456789")))
}

func TestChecksumEmpty(t *testing.T) {
	require.Equal(t, uint16(0xFFFF), Checksum(nil))
}

func TestUpdateIsIncremental(t *testing.T) {
	data := []byte{0x10, 0x05, 0xAA, 0xBB, 0xCC}
	whole := Checksum(data)

	split := Update(Update(initCRC, data[:2]), data[2:])
	require.Equal(t, whole, split)
}

func TestChecksumSensitiveToSingleBitFlip(t *testing.T) {
	a := []byte{0x10, 0x01, 0x02, 0x03}
	b := []byte{0x10, 0x01, 0x02, 0x02}
	require.NotEqual(t, Checksum(a), Checksum(b))
}
