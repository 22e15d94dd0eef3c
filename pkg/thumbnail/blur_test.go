package thumbnail

import (
	"bytes"
	"encoding/base64"
	"image/jpeg"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlurDataURL(t *testing.T) {
	url, err := blurDataURL(testImage(t))
	require.NoError(t, err)

	const prefix = "data:image/jpeg;base64,"
	require.True(t, strings.HasPrefix(url, prefix))

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(url, prefix))
	require.NoError(t, err)

	img, err := jpeg.Decode(bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, blurWidth, img.Bounds().Dx())
}

func TestBlurDataURL_BadInput(t *testing.T) {
	_, err := blurDataURL([]byte("not an image"))
	assert.Error(t, err)
}
