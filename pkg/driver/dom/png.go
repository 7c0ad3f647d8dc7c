package dom

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"sync"
)

var (
	blankOnce sync.Once
	blankData []byte
)

// blankPNG returns a 1x1 white PNG.
func blankPNG() []byte {
	blankOnce.Do(func() {
		img := image.NewRGBA(image.Rect(0, 0, 1, 1))
		img.Set(0, 0, color.White)
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			panic(err)
		}
		blankData = buf.Bytes()
	})
	out := make([]byte, len(blankData))
	copy(out, blankData)
	return out
}
