package storage

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"net/http"
	"os"

	_ "image/gif"

	"github.com/nfnt/resize"
)

// DefaultMaxDimension bounds the longest side of an uploaded photo.
const DefaultMaxDimension = 1600

// Photo is a file ready to upload.
type Photo struct {
	Name        string
	ContentType string
	Data        []byte
}

// Reader returns a reader over the photo bytes.
func (p Photo) Reader() io.Reader {
	return bytes.NewReader(p.Data)
}

var allowedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

// PreparePhoto reads the file at path, checks it is an image by sniffing its
// content and downscales JPEG and PNG images whose longest side exceeds
// maxDim. A maxDim of zero keeps the original size.
func PreparePhoto(path string, maxDim uint) (Photo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Photo{}, fmt.Errorf("storage: read photo: %w", err)
	}

	ctype := http.DetectContentType(data)
	if !allowedTypes[ctype] {
		return Photo{}, fmt.Errorf("%w: %s", ErrUnsupportedType, ctype)
	}

	photo := Photo{Name: ObjectName(path), ContentType: ctype, Data: data}
	if maxDim == 0 || (ctype != "image/jpeg" && ctype != "image/png") {
		return photo, nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Photo{}, fmt.Errorf("storage: decode photo header: %w", err)
	}
	if uint(cfg.Width) <= maxDim && uint(cfg.Height) <= maxDim {
		return photo, nil
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Photo{}, fmt.Errorf("storage: decode photo: %w", err)
	}
	scaled := resize.Thumbnail(maxDim, maxDim, img, resize.Lanczos3)

	var buf bytes.Buffer
	if ctype == "image/png" {
		err = png.Encode(&buf, scaled)
	} else {
		err = jpeg.Encode(&buf, scaled, &jpeg.Options{Quality: 85})
	}
	if err != nil {
		return Photo{}, fmt.Errorf("storage: encode photo: %w", err)
	}

	photo.Data = buf.Bytes()
	return photo, nil
}
