package qr

import (
	"encoding/base64"

	qrcode "github.com/skip2/go-qrcode"
)

// PNG renders a token as a QR code image.
func PNG(token string, size int) ([]byte, error) {
	if size <= 0 {
		size = 256
	}
	return qrcode.Encode(token, qrcode.Medium, size)
}

// DataURL renders a token as a base64 PNG data URL for embedding
// directly in API responses.
func DataURL(token string, size int) (string, error) {
	png, err := PNG(token, size)
	if err != nil {
		return "", err
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png), nil
}
