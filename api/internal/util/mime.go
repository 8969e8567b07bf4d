package util

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"net/http"
	"strings"
)

// SniffMimeHTTP возвращает MIME по сигнатуре, для неизвестных image/jpeg.
func SniffMimeHTTP(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFF && b[1] == 0xD8 {
		return "image/jpeg"
	}
	if len(b) >= 8 &&
		b[0] == 0x89 && b[1] == 0x50 && b[2] == 0x4E && b[3] == 0x47 &&
		b[4] == 0x0D && b[5] == 0x0A && b[6] == 0x1A && b[7] == 0x0A {
		return "image/png"
	}
	if ct := http.DetectContentType(b); strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}

func MakeDataURL(mime, b64 string) string {
	return "data:" + mime + ";base64," + b64
}

// EncodeDataURL кодирует байты в data:URI с MIME по сигнатуре.
func EncodeDataURL(data []byte) string {
	return MakeDataURL(SniffMimeHTTP(data), base64.StdEncoding.EncodeToString(data))
}

func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:")
}

// SplitDataURL делит data:<mime>;base64,<payload> по первой запятой.
// ok=false, если запятой нет.
func SplitDataURL(s string) (mime, payload string, ok bool) {
	idx := strings.IndexByte(s, ',')
	if idx < 0 {
		return "", "", false
	}
	meta := strings.TrimPrefix(s[:idx], "data:") // "<mime>;base64"
	if semi := strings.IndexByte(meta, ';'); semi >= 0 {
		meta = meta[:semi]
	}
	return meta, s[idx+1:], true
}

// DecodeBase64 пробует стандартную base64, без паддинга, затем URL-safe.
func DecodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	b, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return b, nil
	}
	if b2, err2 := base64.RawStdEncoding.DecodeString(s); err2 == nil {
		return b2, nil
	}
	if b3, err3 := base64.URLEncoding.DecodeString(s); err3 == nil {
		return b3, nil
	}
	if b4, err4 := base64.RawURLEncoding.DecodeString(s); err4 == nil {
		return b4, nil
	}
	return nil, err
}

func SHA256Hex(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}
