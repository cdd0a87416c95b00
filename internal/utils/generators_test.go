package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateOrderNumber(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		n := GenerateOrderNumber("PA")
		assert.True(t, strings.HasPrefix(n, "PA"))
		assert.False(t, seen[n], "order number %s repeated", n)
		seen[n] = true
	}

	assert.True(t, strings.HasPrefix(GenerateOrderNumber("PS"), "PS"))
}

func TestGenerateQRToken(t *testing.T) {
	token := GenerateQRToken("PA")
	assert.True(t, strings.HasPrefix(token, "PA-"))
	assert.Len(t, token, len("PA-")+16)
	assert.Equal(t, strings.ToUpper(token), token)

	assert.NotEqual(t, GenerateQRToken("PA"), GenerateQRToken("PA"))
}

func TestGenerateNonce(t *testing.T) {
	nonce := GenerateNonce()
	assert.Len(t, nonce, 32)
	assert.NotEqual(t, nonce, GenerateNonce())
}

func TestRoundMoney(t *testing.T) {
	assert.Equal(t, 10.0, RoundMoney(10.004))
	assert.Equal(t, 10.01, RoundMoney(10.006))
	assert.Equal(t, 94.5, RoundMoney(0.05*1890))
	assert.Equal(t, 105.0, RoundMoney(2100*0.05))
	assert.Equal(t, 0.0, RoundMoney(0))
}
