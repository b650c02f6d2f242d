// Package cobs implements Consistent Overhead Byte Stuffing: it removes
// every 0x00 byte from an arbitrary payload so the result can be framed
// with a single 0x00 delimiter.
package cobs

import "errors"

// ErrZeroCode is returned by Decode when a code byte is itself zero,
// which can never happen in a validly encoded frame.
var ErrZeroCode = errors.New("cobs: zero code byte in encoded frame")

// ErrShortRun is returned by Decode when a code byte claims a run longer
// than the bytes remaining in the input.
var ErrShortRun = errors.New("cobs: code byte run exceeds remaining input")

// MaxRun is the longest span of non-zero bytes a single code byte can
// introduce before another code byte is required.
const MaxRun = 254

// Encode returns src with every zero byte removed, stuffed with COBS
// code bytes. The caller appends the single 0x00 frame delimiter; Encode
// itself never emits one.
func Encode(src []byte) []byte {
	dst := make([]byte, 0, len(src)+len(src)/MaxRun+2)

	// codeIdx points at the code byte of the run currently being built;
	// it is filled in once the run's length (or a zero/overflow) is known.
	codeIdx := 0
	dst = append(dst, 0) // placeholder code byte
	run := byte(1)

	flush := func() {
		dst[codeIdx] = run
	}

	for _, b := range src {
		if b == 0 {
			flush()
			codeIdx = len(dst)
			dst = append(dst, 0)
			run = 1
			continue
		}
		dst = append(dst, b)
		run++
		if run == MaxRun+1 {
			flush()
			codeIdx = len(dst)
			dst = append(dst, 0)
			run = 1
		}
	}
	flush()
	return dst
}

// Decode reverses Encode. It does not expect or strip a trailing 0x00
// delimiter; callers split on delimiters before calling Decode.
func Decode(src []byte) ([]byte, error) {
	dst := make([]byte, 0, len(src))
	i := 0
	for i < len(src) {
		code := src[i]
		if code == 0 {
			return nil, ErrZeroCode
		}
		run := int(code) - 1
		if i+1+run > len(src) {
			return nil, ErrShortRun
		}
		dst = append(dst, src[i+1:i+1+run]...)
		i += 1 + run
		if int(code) < MaxRun+1 && i < len(src) {
			dst = append(dst, 0)
		}
	}
	return dst, nil
}
