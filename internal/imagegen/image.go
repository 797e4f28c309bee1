package imagegen

import (
	"bytes"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"
)

// Decode parses the image bytes. PNG and JPEG are supported.
func (g GeneratedImage) Decode() (image.Image, string, error) {
	img, format, err := image.Decode(bytes.NewReader(g.Data))
	if err != nil {
		return nil, "", fmt.Errorf("failed to decode image: %w", err)
	}
	return img, format, nil
}

// ContentType sniffs the MIME type of the image bytes.
func (g GeneratedImage) ContentType() string {
	return http.DetectContentType(g.Data)
}

// Extension returns the file extension matching ContentType, with the dot.
func (g GeneratedImage) Extension() string {
	switch g.ContentType() {
	case "image/jpeg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".png"
	}
}

// Save writes the raw image bytes to path, creating parent directories.
func (g GeneratedImage) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed creating directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, g.Data, 0o644); err != nil {
		return fmt.Errorf("failed writing %s: %w", path, err)
	}
	return nil
}
