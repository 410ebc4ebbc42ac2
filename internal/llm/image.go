package llm

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrImageTooLarge is returned when an image exceeds the configured limit
var ErrImageTooLarge = errors.New("image too large")

// StripDataURL splits a data URL into its base64 payload and media type.
// Plain base64 is returned unchanged with an empty media type.
func StripDataURL(s string) (payload, mediaType string) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "data:") {
		return s, ""
	}

	header, payload, ok := strings.Cut(s, ",")
	if !ok {
		return "", ""
	}
	mediaType = strings.TrimPrefix(header, "data:")
	mediaType, _, _ = strings.Cut(mediaType, ";")
	return payload, mediaType
}

// EstimatedSize approximates the decoded size of a base64 payload
func EstimatedSize(payload string) int {
	return len(payload) * 3 / 4
}

// CheckSize rejects payloads whose decoded size exceeds maxBytes
func CheckSize(payload string, maxBytes int) error {
	if maxBytes <= 0 {
		return nil
	}
	if size := EstimatedSize(payload); size > maxBytes {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d bytes", ErrImageTooLarge, size, maxBytes)
	}
	return nil
}

// DetectMediaType sniffs the image type, defaulting to image/jpeg for
// anything that is not recognisably an image
func DetectMediaType(data []byte) string {
	mt := http.DetectContentType(data)
	if strings.HasPrefix(mt, "image/") {
		return mt
	}
	return "image/jpeg"
}

// EncodeImage base64-encodes raw image bytes and detects their type
func EncodeImage(data []byte) (payload, mediaType string) {
	return base64.StdEncoding.EncodeToString(data), DetectMediaType(data)
}

// DataURL builds the data URL form accepted by OpenAI-style APIs
func DataURL(payload, mediaType string) string {
	if mediaType == "" {
		mediaType = "image/jpeg"
	}
	return "data:" + mediaType + ";base64," + payload
}
