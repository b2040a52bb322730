package annotate

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aerialvision/internal/models"
)

func solid(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	return img
}

func pixelsEqual(t *testing.T, a, b image.Image) bool {
	t.Helper()
	if a.Bounds().Size() != b.Bounds().Size() {
		return false
	}
	ab, bb := a.Bounds(), b.Bounds()
	for y := 0; y < ab.Dy(); y++ {
		for x := 0; x < ab.Dx(); x++ {
			r1, g1, b1, a1 := a.At(ab.Min.X+x, ab.Min.Y+y).RGBA()
			r2, g2, b2, a2 := b.At(bb.Min.X+x, bb.Min.Y+y).RGBA()
			if r1 != r2 || g1 != g2 || b1 != b2 || a1 != a2 {
				return false
			}
		}
	}
	return true
}

var gray = color.RGBA{40, 40, 40, 255}

func sampleDetections() []models.Detection {
	return []models.Detection{
		{Box: models.Box{X1: 10, Y1: 30, X2: 60, Y2: 80}, Confidence: 0.91, ClassID: 7, ClassName: "pedestrian"},
		{Box: models.Box{X1: 100, Y1: 100, X2: 150, Y2: 140}, Confidence: 0.66, ClassID: 3, ClassName: "car"},
		{Box: models.Box{X1: 120, Y1: 20, X2: 180, Y2: 90}, Confidence: 0.55, ClassID: 3, ClassName: "car"},
	}
}

func TestDrawDetectionsDoesNotMutateSource(t *testing.T) {
	src := solid(200, 160, gray)
	before := append([]byte(nil), src.Pix...)

	out := DrawDetections(src, sampleDetections(), models.DefaultAnnotationSettings())

	assert.Equal(t, before, src.Pix)
	assert.False(t, pixelsEqual(t, src, out))
}

func TestDrawDetectionsBoxColor(t *testing.T) {
	src := solid(200, 160, color.RGBA{0, 0, 0, 255})
	s := models.AnnotationSettings{ShowBoxes: true}

	out := DrawDetections(src, sampleDetections()[:1], s)

	// middle of the left edge of the pedestrian box
	c := out.RGBAAt(10, 55)
	assert.Greater(t, c.G, uint8(200))
	assert.Less(t, c.R, uint8(60))
	// inside the box stays untouched
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, out.RGBAAt(35, 55))
}

func TestDrawDetectionsDisabledIsIdentity(t *testing.T) {
	src := solid(200, 160, gray)
	annotated := Annotate(src, sampleDetections(), models.DefaultAnnotationSettings())

	off := models.AnnotationSettings{ShowConfidence: true}
	again := Annotate(annotated, sampleDetections(), off)

	assert.True(t, pixelsEqual(t, annotated, again))
	assert.NotSame(t, annotated, again)
}

func TestDrawDetectionsHandlesOffsetBounds(t *testing.T) {
	src := solid(200, 160, gray).SubImage(image.Rect(50, 40, 150, 120))
	out := DrawDetections(src, nil, models.DefaultAnnotationSettings())

	assert.Equal(t, image.Rect(0, 0, 100, 80), out.Bounds())
	assert.True(t, pixelsEqual(t, src, out))
}

func TestLabelsWithoutBoxes(t *testing.T) {
	src := solid(200, 160, color.RGBA{0, 0, 0, 255})
	s := models.AnnotationSettings{ShowLabels: true}

	out := DrawDetections(src, sampleDetections()[1:2], s)

	// label background sits right above the car box
	c := out.RGBAAt(100, 99)
	assert.Equal(t, ClassColor("car"), c)
	// no box stroke on the right edge
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, out.RGBAAt(150, 120))
}

func TestCountOverlay(t *testing.T) {
	src := solid(300, 200, color.RGBA{0, 0, 0, 255})

	withCount := AddCountOverlay(src, sampleDetections())
	assert.False(t, pixelsEqual(t, src, withCount))

	// panel stays in the top-left corner
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, withCount.RGBAAt(290, 190))

	s := models.DefaultAnnotationSettings()
	s.ShowCount = false
	plain := Annotate(src, sampleDetections(), s)
	s.ShowCount = true
	counted := Annotate(src, sampleDetections(), s)
	assert.False(t, pixelsEqual(t, plain, counted))
}

func TestCountOverlayEmptyStillShowsTotal(t *testing.T) {
	src := solid(200, 100, color.RGBA{0, 0, 0, 255})
	out := AddCountOverlay(src, nil)
	assert.False(t, pixelsEqual(t, src, out))
}

func TestSideBySide(t *testing.T) {
	original := solid(40, 30, color.RGBA{255, 0, 0, 255})
	annotated := solid(50, 60, color.RGBA{0, 0, 255, 255})

	out := SideBySide(original, annotated)
	require.Equal(t, image.Rect(0, 0, 90, 60), out.Bounds())

	// bottom rows are below the captions
	left := out.RGBAAt(20, 55)
	assert.Greater(t, left.R, uint8(250))
	assert.Less(t, left.B, uint8(5))
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, out.RGBAAt(70, 55))

	assert.Equal(t, image.Rect(0, 0, 40, 30), original.Bounds())
}

func TestClassColor(t *testing.T) {
	assert.Equal(t, color.RGBA{0, 255, 0, 255}, ClassColor("person"))
	assert.Equal(t, FallbackColor, ClassColor("submarine"))
	assert.NotEqual(t, ClassColor("car"), ClassColor("truck"))
}
