package imaging

import (
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"

	// Uploaded photos arrive as jpg/png/webp/gif.
	_ "image/gif"

	_ "golang.org/x/image/webp"

	"github.com/lightencc/mistakebook/internal/geometry"
)

// MinCropSide is the smallest usable crop dimension in pixels. Boxes below
// it come from noise annotations and are rejected rather than written.
const MinCropSide = 8

// JPEG quality bounds for compressed uploads.
const (
	minJPEGQuality = 35
	maxJPEGQuality = 95
)

// AllowedImage reports whether the filename carries a supported photo
// extension.
func AllowedImage(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".gif":
		return true
	}
	return false
}

// Crop extracts the normalized region from the source image and writes it
// as a PNG to outPath, creating parent directories as needed. It returns
// false without writing a file when either side of the pixel box is under
// MinCropSide; that is a normal outcome, not an error. Decode and IO
// failures are returned as errors.
func Crop(srcPath string, rect geometry.Rect, outPath string) (bool, error) {
	src, err := decodeFile(srcPath)
	if err != nil {
		return false, err
	}

	bounds := src.Bounds()
	box := rect.PixelBox(bounds.Dx(), bounds.Dy()).Add(bounds.Min)
	if box.Dx() < MinCropSide || box.Dy() < MinCropSide {
		return false, nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.Draw(dst, dst.Bounds(), src, box.Min, draw.Src)

	if err := writePNG(outPath, dst); err != nil {
		return false, err
	}
	return true, nil
}

// Dimensions reads the pixel width and height of an image without decoding
// its full contents.
func Dimensions(path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return 0, 0, fmt.Errorf("read image header: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// CompressForUpload re-encodes the image as a JPEG sized for remote upload:
// the longer side is scaled down to maxSide when it exceeds it, and quality
// is clamped to [35, 95].
func CompressForUpload(srcPath, dstPath string, maxSide, quality int) error {
	src, err := decodeFile(srcPath)
	if err != nil {
		return err
	}

	if maxSide < 1 {
		maxSide = 1
	}
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	out := src
	if longer := max(w, h); longer > maxSide {
		scale := float64(maxSide) / float64(longer)
		nw := max(1, int(math.Round(float64(w)*scale)))
		nh := max(1, int(math.Round(float64(h)*scale)))

		dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Src, nil)
		out = dst
	}

	if quality < minJPEGQuality {
		quality = minJPEGQuality
	}
	if quality > maxJPEGQuality {
		quality = maxJPEGQuality
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(dstPath)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, out, &jpeg.Options{Quality: quality}); err != nil {
		return fmt.Errorf("encode jpeg: %w", err)
	}
	return nil
}

// DataURL reads the file and encodes it as a base64 data URL for inline
// browser previews.
func DataURL(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image: %w", err)
	}

	mime := "image/png"
	switch filepath.Ext(path) {
	case ".jpg", ".jpeg":
		mime = "image/jpeg"
	case ".gif":
		mime = "image/gif"
	case ".webp":
		mime = "image/webp"
	}
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}

func writePNG(path string, img image.Image) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer f.Close()

	if err := png.Encode(f, img); err != nil {
		return fmt.Errorf("encode png: %w", err)
	}
	return nil
}
