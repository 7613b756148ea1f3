// Package imaging prepares uploaded images for transport to the upstream
// service and builds data URIs for report images.
package imaging

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/infralens/infralens/pkg/apierr"
)

// MaxImageBytes bounds accepted uploads.
const MaxImageBytes = 20 << 20

// Encoded is an image ready to be sent inline.
type Encoded struct {
	MIMEType string
	Data     []byte
	Width    int
	Height   int
}

// Base64 returns the standard base64 encoding of the image bytes.
func (e Encoded) Base64() string {
	return base64.StdEncoding.EncodeToString(e.Data)
}

// DataURI returns the image as a data URI.
func (e Encoded) DataURI() string {
	return DataURI(e.MIMEType, e.Data)
}

// decodable lists formats the standard decoders can verify.
var decodable = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
}

// Encode detects the image type and checks the bytes decode. Failures are
// classified as conversion errors.
func Encode(data []byte) (Encoded, error) {
	if len(data) == 0 {
		return Encoded{}, apierr.New(apierr.KindConversion, "convert image", "image is empty")
	}
	if len(data) > MaxImageBytes {
		return Encoded{}, apierr.New(apierr.KindConversion, "convert image",
			fmt.Sprintf("image is %d bytes, limit is %d", len(data), MaxImageBytes))
	}

	mt := mimetype.Detect(data)
	mime := mt.String()
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = mime[:i]
	}
	if !strings.HasPrefix(mime, "image/") {
		return Encoded{}, apierr.New(apierr.KindConversion, "convert image",
			fmt.Sprintf("unsupported file type %s", mime))
	}

	out := Encoded{MIMEType: mime, Data: data}
	if decodable[mime] {
		cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
		if err != nil {
			return Encoded{}, apierr.Wrap(apierr.KindConversion, "convert image", fmt.Errorf("decode %s: %w", mime, err))
		}
		out.Width, out.Height = cfg.Width, cfg.Height
	}
	return out, nil
}

// DataURI encodes data as a base64 data URI.
func DataURI(mime string, data []byte) string {
	return "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(data)
}

// PlaceholderSVG stands in for the repaired image when synthesis fails.
const PlaceholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" width="512" height="384" viewBox="0 0 512 384">` +
	`<rect width="512" height="384" fill="#e5e7eb"/>` +
	`<text x="256" y="184" font-family="sans-serif" font-size="22" text-anchor="middle" fill="#374151">Visualization unavailable</text>` +
	`<text x="256" y="216" font-family="sans-serif" font-size="14" text-anchor="middle" fill="#6b7280">Refer to the repair plan below</text>` +
	`</svg>`

// PlaceholderDataURI returns the fixed placeholder image.
func PlaceholderDataURI() string {
	return DataURI("image/svg+xml", []byte(PlaceholderSVG))
}
