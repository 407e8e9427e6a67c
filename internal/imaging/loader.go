package imaging

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // Register GIF format decoder
	_ "image/jpeg" // Register JPEG format decoder
	_ "image/png"  // Register PNG format decoder
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	_ "golang.org/x/image/bmp"  // Register BMP format decoder
	_ "golang.org/x/image/tiff" // Register TIFF format decoder
)

// Loader decodes answer-sheet images from disk or memory and caches the
// decoded result by path.
//
// Supported inputs are PNG, JPEG, GIF, BMP, TIFF, HEIC/HEIF (phone cameras)
// and PDF, of which only the first page is rendered.
//
// Loader is safe for concurrent use by multiple goroutines. Cached images
// remain in memory until Evict or Clear is called; batch runs over large
// directories should evict each sheet once it has been graded.
//
// # Example Usage
//
//	loader := imaging.NewLoader()
//	img, err := loader.Load("/scans/sheet-001.jpg")
//	if err != nil {
//	    return err
//	}
//	defer loader.Evict("/scans/sheet-001.jpg")
type Loader struct {
	mu     sync.RWMutex
	images map[string]image.Image
}

// NewLoader creates a loader with an empty cache.
func NewLoader() *Loader {
	return &Loader{
		images: make(map[string]image.Image),
	}
}

// Load retrieves an image from the cache or reads and decodes it from disk.
//
// The image is cached under the exact path string provided. Different paths
// to the same file (relative vs absolute) produce separate cache entries.
func (l *Loader) Load(path string) (image.Image, error) {
	l.mu.RLock()
	if img, ok := l.images[path]; ok {
		l.mu.RUnlock()
		return img, nil
	}
	l.mu.RUnlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	img, _, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", filepath.Base(path), err)
	}

	l.mu.Lock()
	l.images[path] = img
	l.mu.Unlock()

	return img, nil
}

// Clear removes all images from the cache.
func (l *Loader) Clear() {
	l.mu.Lock()
	l.images = make(map[string]image.Image)
	l.mu.Unlock()
}

// Evict removes a single path from the cache. Unknown paths are ignored.
func (l *Loader) Evict(path string) {
	l.mu.Lock()
	delete(l.images, path)
	l.mu.Unlock()
}

// Cached reports how many decoded images the loader currently holds.
func (l *Loader) Cached() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.images)
}

// Decode decodes an in-memory image and reports the detected format.
//
// Parameters:
//   - data: Raw file contents.
//   - hint: File extension (".heic") or MIME type ("application/pdf"). Content
//     sniffing takes precedence; the hint only matters for formats without a
//     reliable signature.
//
// Returns the decoded image and one of "png", "jpeg", "gif", "bmp", "tiff",
// "heic" or "pdf".
func Decode(data []byte, hint string) (image.Image, string, error) {
	hint = strings.ToLower(strings.TrimSpace(hint))

	switch {
	case isPDF(data) || hint == ".pdf" || hint == "application/pdf":
		img, err := decodePDF(data)
		return img, "pdf", err
	case isHEIC(data) || strings.Contains(hint, "heic") || strings.Contains(hint, "heif"):
		img, err := heic.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", fmt.Errorf("decoding HEIC/HEIF image: %w", err)
		}
		return img, "heic", nil
	}

	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("unsupported image format (want PNG, JPEG, GIF, BMP, TIFF, HEIC or PDF): %w", err)
	}
	return img, format, nil
}

// decodePDF renders the first page of a PDF document.
func decodePDF(data []byte) (image.Image, error) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer doc.Close()

	// Answer sheets are single page; anything after the first is ignored
	img, err := doc.Image(0)
	if err != nil {
		return nil, fmt.Errorf("rendering PDF page: %w", err)
	}
	return img, nil
}

func isPDF(data []byte) bool {
	return bytes.HasPrefix(data, []byte("%PDF-"))
}

// isHEIC checks for an ISO-BMFF ftyp box with a HEIC-family brand.
func isHEIC(data []byte) bool {
	if len(data) < 12 || string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heix", "heif", "mif1", "msf1":
		return true
	}
	return false
}

// ImageInfo describes a decoded sheet image.
type ImageInfo struct {
	// Width is the image width in pixels.
	Width int `json:"width"`

	// Height is the image height in pixels.
	Height int `json:"height"`

	// Format is the detected format ("png", "jpeg", "pdf", ...).
	Format string `json:"format"`

	// FileSizeBytes is the size of the file on disk in bytes.
	FileSizeBytes int64 `json:"file_size_bytes"`
}

// Info decodes the file at path (bypassing the cache) and returns its
// dimensions and format.
func Info(path string) (*ImageInfo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}
	img, format, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	bounds := img.Bounds()
	return &ImageInfo{
		Width:         bounds.Dx(),
		Height:        bounds.Dy(),
		Format:        format,
		FileSizeBytes: int64(len(data)),
	}, nil
}
