package decoder

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func TestNormalizeGameCode(t *testing.T) {
	valid := map[string]string{
		"abc":        "ABC",
		" abc-123 ":  "ABC-123",
		"ZZZZZZZZZZ": "ZZZZZZZZZZ",
		"0-0":        "0-0",
	}
	for in, want := range valid {
		got, ok := NormalizeGameCode(in)
		assert.True(t, ok, in)
		assert.Equal(t, want, got)
	}

	for _, in := range []string{"", "AB", "ABCDEFGHIJK", "AB_C", "ÄBC", "A B"} {
		_, ok := NormalizeGameCode(in)
		assert.False(t, ok, in)
	}
}

func TestFallbackGameCode_Deterministic(t *testing.T) {
	h := common.HexToHash("0xabc0000000000000000000000000000000000000000000000000000000000def")
	first := FallbackGameCode(h)
	second := FallbackGameCode(h)

	assert.Equal(t, first, second)
	assert.Equal(t, "TX-ABC000", first)

	// Always a valid game code
	code, ok := NormalizeGameCode(first)
	assert.True(t, ok)
	assert.Equal(t, first, code)

	assert.NotEqual(t, first, FallbackGameCode(common.HexToHash("0x1234")))
}
