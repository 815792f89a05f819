package attendance

import (
	"net/url"
	"strings"

	qrcode "github.com/skip2/go-qrcode"
)

const (
	DefaultQRSize = 512
	MinQRSize     = 128
	MaxQRSize     = 1024
)

// StudentLink builds the URL a student opens to check in to session.
func StudentLink(publicURL string, session SessionInfo) string {
	base := strings.TrimRight(strings.TrimSpace(publicURL), "/")
	query := url.Values{}
	query.Set("sessionID", session.ID)
	query.Set("sessionName", session.Name)
	return base + "/?" + query.Encode()
}

func ClampQRSize(size int) int {
	switch {
	case size <= 0:
		return DefaultQRSize
	case size < MinQRSize:
		return MinQRSize
	case size > MaxQRSize:
		return MaxQRSize
	default:
		return size
	}
}

func QRCodePNG(link string, size int) ([]byte, error) {
	if strings.TrimSpace(link) == "" {
		return nil, ErrInvalidInput
	}
	return qrcode.Encode(link, qrcode.Medium, ClampQRSize(size))
}
