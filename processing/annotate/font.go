package annotate

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var font *truetype.Font

func init() {
	var err error
	font, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

func setFont(dc *gg.Context, size float64) {
	dc.SetFontFace(truetype.NewFace(font, &truetype.Options{Size: size}))
}

func drawString(dc *gg.Context, text string, x, y float64, c color.Color, size float64) {
	setFont(dc, size)
	dc.SetColor(c)
	dc.DrawString(text, x, y)
}

// cloneRGBA copies img into a fresh RGBA anchored at the origin so drawing
// never touches the caller's pixels.
func cloneRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return dst
}

func newContext(img image.Image) (*gg.Context, *image.RGBA) {
	rgba := cloneRGBA(img)
	return gg.NewContextForRGBA(rgba), rgba
}
