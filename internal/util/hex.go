// Package util provides common utility functions.
package util

import (
	"encoding/binary"
	"fmt"
	"strings"
)

// HexToBytes converts a hex string (whitespace tolerated) to a byte slice.
func HexToBytes(hex string) ([]byte, error) {
	hex = strings.ReplaceAll(hex, " ", "")
	hex = strings.ReplaceAll(hex, "\n", "")
	hex = strings.ReplaceAll(hex, "\r", "")

	if len(hex)%2 != 0 {
		return nil, fmt.Errorf("hex string has odd length: %d", len(hex))
	}

	result := make([]byte, len(hex)/2)
	for i := 0; i < len(result); i++ {
		_, err := fmt.Sscanf(hex[i*2:i*2+2], "%02x", &result[i])
		if err != nil {
			return nil, fmt.Errorf("invalid hex at position %d: %w", i*2, err)
		}
	}
	return result, nil
}

// BytesToHex converts a byte slice to a hex string with spaces between bytes.
func BytesToHex(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, " ")
}

// WordsToHex renders little-endian dwords of data as 8-digit hex strings.
// A trailing partial dword is zero-padded.
func WordsToHex(data []byte) []string {
	n := (len(data) + 3) / 4
	words := make([]string, n)
	for i := 0; i < n; i++ {
		var buf [4]byte
		copy(buf[:], data[i*4:])
		words[i] = fmt.Sprintf("%08x", binary.LittleEndian.Uint32(buf[:]))
	}
	return words
}

// HexToWords parses 8-digit hex dword strings back into little-endian bytes.
func HexToWords(words []string) ([]byte, error) {
	data := make([]byte, len(words)*4)
	for i, w := range words {
		var v uint32
		if _, err := fmt.Sscanf(w, "%x", &v); err != nil {
			return nil, fmt.Errorf("invalid hex word %d %q: %w", i, w, err)
		}
		binary.LittleEndian.PutUint32(data[i*4:], v)
	}
	return data, nil
}

// NextPowerOfTwo rounds v up to the next power of two. Zero stays zero.
func NextPowerOfTwo(v uint64) uint64 {
	if v == 0 {
		return 0
	}
	v--
	for shift := uint(1); shift < 64; shift <<= 1 {
		v |= v >> shift
	}
	return v + 1
}

// Log2Ceil returns ceil(log2(v)) with a minimum of 1.
func Log2Ceil(v uint64) int {
	if v <= 2 {
		return 1
	}
	bits := 0
	for p := uint64(1); p < v; p <<= 1 {
		bits++
	}
	return bits
}
