package decoder

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Byte layout contract for ABI-encoded event data:
//
//	head: N fixed 32-byte slots. Static values (address, uintN) sit in
//	      their slot; dynamic values (string, T[]) store a byte offset,
//	      measured from the start of data, pointing into the tail.
//	tail: at each offset a 32-byte length word followed by the payload,
//	      right-padded to a multiple of 32 bytes.
//
// Every function here is total: malformed input yields ok == false, never a
// panic or an out-of-bounds read.

const (
	// WordSize is the width of one ABI slot.
	WordSize = 32

	// MaxStringLength rejects corrupt length words. Game codes are far shorter.
	MaxStringLength = 100

	// MaxArrayLength bounds dynamic address arrays.
	MaxArrayLength = 256
)

// Word returns head slot i of data.
func Word(data []byte, i int) ([]byte, bool) {
	if i < 0 {
		return nil, false
	}
	start := i * WordSize
	if start+WordSize > len(data) || start+WordSize < start {
		return nil, false
	}
	return data[start : start+WordSize], true
}

// DecodeAddress returns the low 20 bytes of a 32-byte chunk.
func DecodeAddress(chunk []byte) common.Address {
	if len(chunk) < common.AddressLength {
		return common.BytesToAddress(chunk)
	}
	return common.BytesToAddress(chunk[len(chunk)-common.AddressLength:])
}

// DecodeUint interprets a chunk as a big-endian unsigned integer.
func DecodeUint(chunk []byte) *big.Int {
	return new(big.Int).SetBytes(chunk)
}

// wordToIndex converts a word to a byte offset or length that can address
// data. Values that do not fit, or exceed limit, are rejected.
func wordToIndex(word []byte, limit int) (int, bool) {
	v := DecodeUint(word)
	if !v.IsUint64() || v.Uint64() > uint64(limit) {
		return 0, false
	}
	return int(v.Uint64()), true
}

// DecodeDynamicString decodes a string whose offset is stored in the first
// head slot.
func DecodeDynamicString(data []byte) (string, bool) {
	return DecodeStringAt(data, 0)
}

// DecodeStringAt decodes the string whose offset is stored in head slot
// slot. The declared length must be within 1..MaxStringLength and the bytes
// must lie inside data. Decoding stops at the first NUL byte, and the text
// before it must be ASCII.
func DecodeStringAt(data []byte, slot int) (string, bool) {
	head, ok := Word(data, slot)
	if !ok {
		return "", false
	}
	offset, ok := wordToIndex(head, len(data))
	if !ok || offset+WordSize > len(data) {
		return "", false
	}
	length, ok := wordToIndex(data[offset:offset+WordSize], MaxStringLength)
	if !ok || length == 0 {
		return "", false
	}
	start := offset + WordSize
	if start+length > len(data) {
		return "", false
	}

	raw := data[start : start+length]
	for i, b := range raw {
		if b == 0 {
			raw = raw[:i]
			break
		}
		if b >= 0x80 {
			return "", false
		}
	}
	if len(raw) == 0 {
		return "", false
	}
	return string(raw), true
}

// DecodeAddressArrayAt decodes an address[] whose offset is stored in head
// slot slot. An empty array is valid.
func DecodeAddressArrayAt(data []byte, slot int) ([]common.Address, bool) {
	head, ok := Word(data, slot)
	if !ok {
		return nil, false
	}
	offset, ok := wordToIndex(head, len(data))
	if !ok || offset+WordSize > len(data) {
		return nil, false
	}
	n, ok := wordToIndex(data[offset:offset+WordSize], MaxArrayLength)
	if !ok {
		return nil, false
	}
	start := offset + WordSize
	if start+n*WordSize > len(data) {
		return nil, false
	}

	out := make([]common.Address, n)
	for i := 0; i < n; i++ {
		at := start + i*WordSize
		out[i] = DecodeAddress(data[at : at+WordSize])
	}
	return out, true
}

// TopicAddress returns the address held in an indexed topic.
func TopicAddress(topic common.Hash) common.Address {
	return DecodeAddress(topic.Bytes())
}
