package imaging

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
)

// EncodePNGBase64 encodes an image as PNG and returns it base64-encoded,
// the format MCP clients expect for inline image content.
func EncodePNGBase64(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
