package storage

import (
	"encoding/base64"
	"strings"

	"navio/services/api/internal/apperr"
)

const (
	// MaxImageSize is the largest decoded screenshot accepted (10 MiB).
	MaxImageSize = 10 << 20
	// MinImageSize rejects payloads too small to be a real capture (1 KiB).
	MinImageSize = 1 << 10
)

var allowedTypes = []string{"image/png", "image/jpeg", "image/jpg", "image/webp"}

// Image is a decoded screenshot ready for upload.
type Image struct {
	Data        []byte
	ContentType string
}

// Ext is the file extension used in the object key.
func (i Image) Ext() string {
	switch strings.ToLower(i.ContentType) {
	case "image/jpeg", "image/jpg":
		return "jpg"
	case "image/webp":
		return "webp"
	default:
		return "png"
	}
}

// IsDataURL reports whether s looks like an inline base64 payload.
func IsDataURL(s string) bool {
	return strings.HasPrefix(s, "data:") && strings.Contains(s, ";base64,")
}

// DecodeDataURL parses data:<type>;base64,<payload> and enforces the
// content type allow-list and the size bounds.
func DecodeDataURL(s string) (Image, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return Image{}, apperr.ErrInvalidDataURL
	}
	contentType, payload, ok := strings.Cut(rest, ";base64,")
	if !ok || contentType == "" || strings.Contains(contentType, ";") {
		return Image{}, apperr.ErrInvalidDataURL
	}
	if !allowedType(contentType) {
		return Image{}, apperr.ErrInvalidContentType.WithMessage(
			"Invalid image type: " + contentType + ". Allowed types: " + strings.Join(allowedTypes, ", "))
	}
	payload = stripSpace(payload)
	if payload == "" {
		return Image{}, apperr.ErrEmptyScreenshot
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return Image{}, apperr.ErrInvalidBase64
	}
	if len(data) > MaxImageSize {
		return Image{}, apperr.ErrScreenshotTooLarge.WithMessage("Screenshot too large. Maximum size is 10MB.")
	}
	if len(data) < MinImageSize {
		return Image{}, apperr.ErrScreenshotTooSmall.WithMessage("Screenshot data too small. The image may be corrupted.")
	}
	return Image{Data: data, ContentType: strings.ToLower(contentType)}, nil
}

func allowedType(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, t := range allowedTypes {
		if ct == t {
			return true
		}
	}
	return false
}

func decodeBase64(payload string) ([]byte, error) {
	var firstErr error
	for _, enc := range []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	} {
		data, err := enc.DecodeString(payload)
		if err == nil {
			return data, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, firstErr
}

func stripSpace(s string) string {
	if !strings.ContainsAny(s, " \t\r\n") {
		return s
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\r', '\n':
			return -1
		}
		return r
	}, s)
}
