package thumbnail

import (
	"bytes"
	"encoding/base64"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Placeholder width in pixels. Small enough to inline in a data URL,
// large enough to read as a color impression of the full image.
const blurWidth = 10

// blurDataURL downscales the source image to a tiny blurred preview and
// returns it as a base64 JPEG data URL.
func blurDataURL(data []byte) (string, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", errors.Wrap(err, "failed to decode image")
	}

	small := imaging.Resize(src, blurWidth, 0, imaging.Lanczos)
	small = imaging.Blur(small, 1.5)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, small, imaging.JPEG, imaging.JPEGQuality(60)); err != nil {
		return "", errors.Wrap(err, "failed to encode placeholder")
	}

	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
