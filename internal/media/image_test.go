package media

import (
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestImage(t *testing.T, width, height int) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "test.jpg")
	require.NoError(t, imaging.Save(img, path))
	return path
}

func TestAnalyzeImage(t *testing.T) {
	path := writeTestImage(t, 320, 240)

	meta, err := AnalyzeImage(path)
	require.NoError(t, err)

	assert.Equal(t, 320, meta["width"])
	assert.Equal(t, 240, meta["height"])
	assert.InDelta(t, 320.0/240.0, meta["aspect_ratio"], 0.001)
	assert.NotEmpty(t, meta["blur_hash"])
}

func TestAnalyzeImageRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bogus.jpg")
	require.NoError(t, os.WriteFile(path, []byte("not an image"), 0o644))

	_, err := AnalyzeImage(path)
	assert.Error(t, err)
}

func TestBuildImageDerivativesSmallImage(t *testing.T) {
	path := writeTestImage(t, 320, 240)

	d, err := BuildImageDerivatives(path)
	require.NoError(t, err)
	defer d.Cleanup()

	assert.FileExists(t, d.PrimaryPath)
	assert.Empty(t, d.CompressedPath, "below the area threshold no compressed variant is produced")
	assert.Equal(t, "image/jpeg", d.MimeType)
}

func TestBuildImageDerivativesLargeImage(t *testing.T) {
	// 1600x1200 is past ~1 Mpx.
	path := writeTestImage(t, 1600, 1200)

	d, err := BuildImageDerivatives(path)
	require.NoError(t, err)
	defer d.Cleanup()

	assert.FileExists(t, d.PrimaryPath)
	require.NotEmpty(t, d.CompressedPath)
	assert.FileExists(t, d.CompressedPath)

	scaled, err := imaging.Open(d.CompressedPath)
	require.NoError(t, err)
	assert.LessOrEqual(t, scaled.Bounds().Dx(), 1024)
	assert.LessOrEqual(t, scaled.Bounds().Dy(), 1024)
}

func TestTypePredicates(t *testing.T) {
	assert.True(t, IsImage("image/png"))
	assert.False(t, IsImage("application/pdf"))
	assert.True(t, IsAudioVideo("audio/mpeg"))
	assert.True(t, IsAudioVideo("video/mp4"))
	assert.False(t, IsAudioVideo("image/png"))
}
