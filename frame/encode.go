package frame

import (
	"bufio"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"io"
	"os"
	"path/filepath"

	"github.com/HugoSmits86/nativewebp"
	"github.com/ftrvxmtrx/tga"
	"golang.org/x/image/tiff"

	"github.com/ardnew/prucam/pkg"
)

// Format is an image file format.
type Format string

// Supported formats.
const (
	PNG  Format = "png"
	TIFF Format = "tiff"
	WebP Format = "webp"
	TGA  Format = "tga"
)

// Formats lists every supported format.
var Formats = []Format{PNG, TIFF, WebP, TGA}

// ParseFormat returns the format with the given name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case PNG, TIFF, WebP, TGA:
		return f, nil
	case "tif":
		return TIFF, nil
	}
	return "", fmt.Errorf("%w: image format %q", pkg.ErrNotSupported, s)
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string { return "." + string(f) }

// Lossless16 reports whether the format keeps 16-bit samples.
func (f Format) Lossless16() bool { return f == PNG || f == TIFF }

// Encode writes img to w in format f. Formats without 16-bit grayscale
// receive the high byte of each sample.
func Encode(w io.Writer, img image.Image, f Format) error {
	switch f {
	case PNG:
		return png.Encode(w, img)
	case TIFF:
		return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate})
	case WebP:
		return nativewebp.Encode(w, toNRGBA(img), nil)
	case TGA:
		return tga.Encode(w, toNRGBA(img))
	}
	return fmt.Errorf("%w: image format %q", pkg.ErrNotSupported, f)
}

func toNRGBA(img image.Image) *image.NRGBA {
	if n, ok := img.(*image.NRGBA); ok {
		return n
	}
	b := img.Bounds()
	dst := image.NewNRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

// WriteImage encodes the frame into dir as <id><ext> and returns the path.
func (f *Frame) WriteImage(dir string, format Format) (string, error) {
	img, err := f.Image()
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, f.ID.String()+format.Ext())
	if err := writeFile(path, func(w io.Writer) error { return Encode(w, img, format) }); err != nil {
		return "", err
	}
	pkg.LogDebug(pkg.ComponentFrame, "image written", "path", path, "format", format)
	return path, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(file)
	if err := fn(bw); err != nil {
		file.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

// WritePreview writes an 8-bit PNG no larger than size into dir as
// <id>-preview.png and returns the path.
func (f *Frame) WritePreview(dir string, size int) (string, error) {
	img, err := f.Preview(size)
	if err != nil {
		return "", err
	}
	path := filepath.Join(dir, f.ID.String()+"-preview"+PNG.Ext())
	if err := writeFile(path, func(w io.Writer) error { return Encode(w, img, PNG) }); err != nil {
		return "", err
	}
	return path, nil
}
