// Package images - Image decoding, encoding and acquisition.
package images

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"

	"github.com/chai2010/webp"
	"github.com/cshum/vipsgen/vips"
	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// DefaultJPEGQuality matches the OpenCV imencode default.
const DefaultJPEGQuality = 95

// Decode decodes an encoded image into an opaque RGBA image.
//
// EXIF orientation is applied. Formats the Go decoders do not understand
// (AVIF, HEIC and friends) are transcoded to PNG through libvips first.
// Any alpha channel is dropped, keeping the straight colour values.
//
// Arguments:
//   - data: The encoded image bytes.
//
// Returns:
//   - *image.RGBA: The decoded image with bounds starting at (0,0).
//   - error: An error if the bytes cannot be decoded by any decoder.
func Decode(data []byte) (*image.RGBA, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}

	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		transcoded, vipsErr := transcodeToPNG(data)
		if vipsErr != nil {
			return nil, errors.Wrapf(err, "decode image (vips fallback: %v)", vipsErr)
		}
		img, err = imaging.Decode(bytes.NewReader(transcoded))
		if err != nil {
			return nil, errors.Wrap(err, "decode transcoded image")
		}
	}

	rgba := ToRGBA(img)
	if rgba.Bounds().Empty() {
		return nil, errors.New("decoded image is empty")
	}
	return rgba, nil
}

// transcodeToPNG re-encodes data as PNG using libvips.
func transcodeToPNG(data []byte) ([]byte, error) {
	img, err := vips.NewImageFromBuffer(data, &vips.LoadOptions{
		Access: vips.AccessSequential,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load image: %w", err)
	}
	defer img.Close()

	out, err := img.PngsaveBuffer(&vips.PngsaveBufferOptions{})
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("failed to encode image as png: %v", err)
	}
	return out, nil
}

// ToRGBA returns an opaque copy of img as *image.RGBA with bounds at the origin.
func ToRGBA(img image.Image) *image.RGBA {
	src := imaging.Clone(img)
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for i := 0; i+3 < len(src.Pix) && i+3 < len(dst.Pix); i += 4 {
		dst.Pix[i] = src.Pix[i]
		dst.Pix[i+1] = src.Pix[i+1]
		dst.Pix[i+2] = src.Pix[i+2]
		dst.Pix[i+3] = 0xff
	}
	return dst
}

// Encode encodes img in the given format.
//
// Arguments:
//   - img: The image to encode.
//   - format: The output format.
//   - quality: Lossy quality in [1,100]; values outside fall back to DefaultJPEGQuality.
//
// Returns:
//   - []byte: The encoded bytes.
//   - error: An error if encoding fails.
func Encode(img image.Image, format ImageFormat, quality int) ([]byte, error) {
	if img == nil || img.Bounds().Empty() {
		return nil, errors.New("cannot encode an empty image")
	}
	if quality < 1 || quality > 100 {
		quality = DefaultJPEGQuality
	}

	switch format {
	case FormatWebP:
		var buf bytes.Buffer
		if err := webp.Encode(&buf, img, &webp.Options{Quality: float32(quality)}); err != nil {
			return nil, errors.Wrap(err, "encode webp")
		}
		return buf.Bytes(), nil
	case FormatPNG:
		return encodeMat(img, gocv.PNGFileExt, nil)
	case FormatJPEG, "":
		return encodeMat(img, gocv.JPEGFileExt, []int{int(gocv.IMWriteJpegQuality), quality})
	default:
		return nil, fmt.Errorf("unsupported image format: %q", format)
	}
}

func encodeMat(img image.Image, ext gocv.FileExt, params []int) ([]byte, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, errors.Wrap(err, "convert image to mat")
	}
	defer mat.Close()

	buf, err := gocv.IMEncodeWithParams(ext, mat, params)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s", ext)
	}
	defer buf.Close()

	native := buf.GetBytes()
	out := make([]byte, len(native))
	copy(out, native)
	return out, nil
}

// EncodeBase64 encodes img and returns the standard base64 form of the bytes.
func EncodeBase64(img image.Image, format ImageFormat, quality int) (string, error) {
	data, err := Encode(img, format, quality)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(data), nil
}
