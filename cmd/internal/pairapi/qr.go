package pairapi

import (
	"encoding/base64"

	"github.com/skip2/go-qrcode"
)

const qrSize = 256

func renderQR(code string) ([]byte, error) {
	return qrcode.Encode(code, qrcode.Medium, qrSize)
}

// qrDataURL renders code as an inline PNG data URL. It returns "" when the
// code cannot be encoded.
func qrDataURL(code string) string {
	if code == "" {
		return ""
	}
	png, err := renderQR(code)
	if err != nil {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(png)
}
