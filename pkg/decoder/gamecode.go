package decoder

import (
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

var gameCodePattern = regexp.MustCompile(`^[A-Z0-9-]{3,10}$`)

// FallbackPrefix marks game codes derived from a transaction hash.
const FallbackPrefix = "TX-"

// NormalizeGameCode upper-cases s and checks it is a 3-10 character code of
// [A-Z0-9-].
func NormalizeGameCode(s string) (string, bool) {
	code := strings.ToUpper(strings.TrimSpace(s))
	if !gameCodePattern.MatchString(code) {
		return "", false
	}
	return code, true
}

// FallbackGameCode maps a transaction hash to a reproducible game code:
// "TX-" followed by the first three hash bytes in upper-case hex.
func FallbackGameCode(txHash common.Hash) string {
	return FallbackPrefix + strings.ToUpper(hex.EncodeToString(txHash[:3]))
}
