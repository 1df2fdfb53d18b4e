// Package media extracts type-specific metadata and produces image
// derivatives. Extraction failures are reported to callers but treated as
// non-fatal by the ingestion pipeline.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/bbrks/go-blurhash"
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/rwcarlsen/goexif/tiff"

	"github.com/driftlock/filestore/internal/models"
)

// CompressionAreaThreshold is the pixel area above which a scaled-down
// derivative is produced alongside the primary one.
const CompressionAreaThreshold = 1 << 20 // ~1 Mpx

// compressedMaxDim bounds the longer edge of the scaled-down derivative.
const compressedMaxDim = 1024

// derivativeQuality is the JPEG quality for both derivatives.
const derivativeQuality = 85

// IsImage reports whether the mime type goes through the image pipeline.
func IsImage(mimeType string) bool {
	return strings.HasPrefix(mimeType, "image/")
}

// IsAudioVideo reports whether the mime type goes through the probe.
func IsAudioVideo(mimeType string) bool {
	return strings.HasPrefix(mimeType, "audio/") || strings.HasPrefix(mimeType, "video/")
}

// AnalyzeImage reads the staged file and returns image fileMeta: blur-hash,
// dimensions, orientation, aspect ratio and raw embedded tags.
func AnalyzeImage(path string) (models.JSONMap, error) {
	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	meta := models.JSONMap{
		"width":  width,
		"height": height,
	}
	if height > 0 {
		meta["aspect_ratio"] = float64(width) / float64(height)
	}

	// Blur-hash over a small thumbnail; encoding cost is quadratic in
	// pixel count and the hash does not need full resolution.
	thumb := imaging.Fit(img, 64, 64, imaging.Lanczos)
	if hash, err := blurhash.Encode(4, 3, thumb); err == nil {
		meta["blur_hash"] = hash
	}

	if orientation, tags := readExif(path); orientation != 0 {
		meta["orientation"] = orientation
		if len(tags) > 0 {
			meta["raw_tags"] = tags
		}
	} else if len(tags) > 0 {
		meta["raw_tags"] = tags
	}

	return meta, nil
}

// readExif returns the orientation tag (0 when absent) and all embedded
// tags as strings. Missing or corrupt EXIF is not an error.
func readExif(path string) (int, map[string]string) {
	f, err := os.Open(path)
	if err != nil {
		return 0, nil
	}
	defer f.Close()

	x, err := exif.Decode(f)
	if err != nil {
		return 0, nil
	}

	orientation := 0
	if tag, err := x.Get(exif.Orientation); err == nil {
		if v, err := tag.Int(0); err == nil {
			orientation = v
		}
	}

	collector := tagCollector{tags: make(map[string]string)}
	_ = x.Walk(&collector)
	return orientation, collector.tags
}

type tagCollector struct {
	tags map[string]string
}

func (c *tagCollector) Walk(name exif.FieldName, tag *tiff.Tag) error {
	c.tags[string(name)] = tag.String()
	return nil
}

// Derivatives is the result of processing an image for upload.
type Derivatives struct {
	PrimaryPath    string // normalized JPEG
	CompressedPath string // scaled-down variant, empty when not produced
	MimeType       string
}

// BuildImageDerivatives writes a normalized JPEG derivative next to the
// staged file and, when the pixel area exceeds the threshold, a
// scaled-down compressed variant.
func BuildImageDerivatives(stagedPath string) (*Derivatives, error) {
	img, err := imaging.Open(stagedPath, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}

	primary := stagedPath + ".primary.jpg"
	if err := imaging.Save(img, primary, imaging.JPEGQuality(derivativeQuality)); err != nil {
		return nil, fmt.Errorf("saving derivative: %w", err)
	}

	d := &Derivatives{PrimaryPath: primary, MimeType: "image/jpeg"}

	bounds := img.Bounds()
	if bounds.Dx()*bounds.Dy() > CompressionAreaThreshold {
		scaled := imaging.Fit(img, compressedMaxDim, compressedMaxDim, imaging.Lanczos)
		compressed := stagedPath + ".compressed.jpg"
		if err := imaging.Save(scaled, compressed, imaging.JPEGQuality(derivativeQuality)); err != nil {
			// Primary derivative still usable; drop the variant.
			return d, fmt.Errorf("saving compressed derivative: %w", err)
		}
		d.CompressedPath = compressed
	}
	return d, nil
}

// Cleanup removes derivative files. Safe on partially built results.
func (d *Derivatives) Cleanup() {
	if d == nil {
		return
	}
	for _, p := range []string{d.PrimaryPath, d.CompressedPath} {
		if p != "" {
			_ = os.Remove(filepath.Clean(p))
		}
	}
}
