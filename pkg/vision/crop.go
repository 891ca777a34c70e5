package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"
)

// FaceCropSize is the edge length of archived face crops.
const FaceCropSize = 150

// CropFace cuts box out of the JPEG frame and scales it to a
// FaceCropSize square JPEG.
func CropFace(frame []byte, box BoundingBox) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	rect := image.Rect(box.X, box.Y, box.X+box.W, box.Y+box.H).Intersect(src.Bounds())
	if rect.Empty() {
		return nil, fmt.Errorf("face box %+v outside frame %v", box, src.Bounds())
	}

	dst := image.NewRGBA(image.Rect(0, 0, FaceCropSize, FaceCropSize))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, rect, draw.Src, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}
