package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"
)

// GenerateOrderNumber builds a human-readable order number: the given
// prefix ("PA" for ticket orders, "PS" for shop orders) plus a base36
// timestamp and a short random suffix to keep concurrent orders unique.
func GenerateOrderNumber(prefix string) string {
	ts := strings.ToUpper(big.NewInt(time.Now().UnixMilli()).Text(36))
	n, _ := rand.Int(rand.Reader, big.NewInt(1296)) // two base36 chars
	suffix := strings.ToUpper(big.NewInt(0).Add(big.NewInt(1296), n).Text(36))[1:]
	return fmt.Sprintf("%s%s%s", prefix, ts, suffix)
}

// GenerateQRToken builds an opaque redemption token: prefix plus 16
// uppercase hex chars, e.g. "PS-ABC123...".
func GenerateQRToken(prefix string) string {
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in a bad state
		panic(fmt.Sprintf("qr token generation: %v", err))
	}
	return fmt.Sprintf("%s-%s", prefix, strings.ToUpper(hex.EncodeToString(buf)))
}

// GenerateNonce returns a 32-char lowercase hex nonce for signed
// provider requests.
func GenerateNonce() string {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("nonce generation: %v", err))
	}
	return hex.EncodeToString(buf)
}

// RoundMoney rounds to two decimal places using standard rounding.
// Applied once per computed figure, never compounded.
func RoundMoney(v float64) float64 {
	return math.Round(v*100) / 100
}
