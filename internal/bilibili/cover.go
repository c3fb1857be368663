package bilibili

import (
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

// The destination rejects covers wider than its render size, so oversized
// images are scaled down before submission.
const (
	maxCoverWidth    = 1920
	coverJPEGQuality = 90
)

// PrepareCover normalizes the template's cover for CLI submission. Remote
// URLs and JPEGs pass through; other local formats are re-encoded as a
// JPEG rendition next to the original, scaled down when too wide.
func PrepareCover(path string) (string, error) {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		// Remote covers are handed straight to the CLI.
		return path, nil
	}
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".jpg" || ext == ".jpeg" {
		return path, nil
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening cover: %w", err)
	}
	defer src.Close()

	img, _, err := image.Decode(src)
	if err != nil {
		return "", fmt.Errorf("decoding cover %s: %w", filepath.Base(path), err)
	}
	if img.Bounds().Dx() > maxCoverWidth {
		img = scaleToWidth(img, maxCoverWidth)
	}

	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".cover.jpg"
	dst, err := os.Create(out)
	if err != nil {
		return "", fmt.Errorf("creating cover rendition: %w", err)
	}
	if err := jpeg.Encode(dst, img, &jpeg.Options{Quality: coverJPEGQuality}); err != nil {
		dst.Close()
		return "", fmt.Errorf("encoding cover: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("writing cover rendition: %w", err)
	}
	return out, nil
}

func scaleToWidth(img image.Image, width int) image.Image {
	b := img.Bounds()
	height := b.Dy() * width / b.Dx()
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
