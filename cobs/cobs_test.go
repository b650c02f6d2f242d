package cobs

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	cases := [][]byte{
		{},
		{0x00},
		{0x11, 0x22, 0x00, 0x33},
		{0x11, 0x22, 0x33, 0x44},
		{0x00, 0x00, 0x00},
		bytesN(1, 253),
		bytesN(1, 254),
		bytesN(1, 255),
		bytesN(1, 600),
	}
	for i, src := range cases {
		enc := Encode(src)
		require.NotContains(t, enc, byte(0x00), "case %d: encoded frame must not contain 0x00", i)
		dec, err := Decode(enc)
		require.NoError(t, err, "case %d", i)
		require.Equal(t, src, dec, "case %d", i)
	}
}

func TestDecodeRejectsZeroCode(t *testing.T) {
	_, err := Decode([]byte{0x02, 0x01, 0x00})
	require.ErrorIs(t, err, ErrZeroCode)
}

func TestDecodeRejectsShortRun(t *testing.T) {
	_, err := Decode([]byte{0x05, 0x01, 0x02})
	require.ErrorIs(t, err, ErrShortRun)
}

func TestFuzzRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	for i := 0; i < 2000; i++ {
		n := r.Intn(600)
		src := make([]byte, n)
		for j := range src {
			src[j] = byte(r.Intn(256))
		}
		enc := Encode(src)
		dec, err := Decode(enc)
		require.NoError(t, err)
		require.Equal(t, src, dec)
	}
}

func TestDecodeNeverPanicsOnRandomBytes(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	for i := 0; i < 5000; i++ {
		n := r.Intn(64)
		buf := make([]byte, n)
		for j := range buf {
			buf[j] = byte(r.Intn(256))
		}
		require.NotPanics(t, func() {
			_, _ = Decode(buf)
		})
	}
}

func bytesN(start int, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		v := start + i
		if v%256 == 0 {
			v++
		}
		b[i] = byte(v)
	}
	return b
}
