// Package annotate renders detections and auxiliary views onto frame copies.
// Every function here is pure: inputs are never modified.
package annotate

import (
	"fmt"
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"github.com/fogleman/gg"

	"aerialvision/internal/models"
)

const (
	boxThickness  = 2.0
	labelFontSize = 14.0

	countTotalFontSize = 26.0
	countClassFontSize = 21.0
	countLineHeight    = 35.0

	captionFontSize = 28.0
)

// DrawDetections returns a copy of frame with the detections drawn in the
// order given. Boxes and labels follow settings; the label text carries the
// confidence when ShowConfidence is set. With boxes and labels disabled the
// result is a pixel copy of frame.
func DrawDetections(frame image.Image, dets []models.Detection, s models.AnnotationSettings) *image.RGBA {
	dc, out := newContext(frame)
	drawDetections(dc, dets, s)
	return out
}

// AddCountOverlay returns a copy of frame with a panel listing the total
// number of detections and the count per class, in first-seen order.
func AddCountOverlay(frame image.Image, dets []models.Detection) *image.RGBA {
	dc, out := newContext(frame)
	drawCount(dc, dets)
	return out
}

// Annotate draws detections and, when enabled, the count overlay on top of
// them, using a single copy of frame.
func Annotate(frame image.Image, dets []models.Detection, s models.AnnotationSettings) *image.RGBA {
	dc, out := newContext(frame)
	drawDetections(dc, dets, s)
	if s.ShowCount {
		drawCount(dc, dets)
	}
	return out
}

// SideBySide places original and annotated next to each other. The shorter
// image is stretched to the taller height, keeping its width.
func SideBySide(original, annotated image.Image) *image.RGBA {
	h := original.Bounds().Dy()
	if annotated.Bounds().Dy() > h {
		h = annotated.Bounds().Dy()
	}

	left := fitHeight(original, h)
	right := fitHeight(annotated, h)
	leftW := left.Bounds().Dx()

	canvas := imaging.New(leftW+right.Bounds().Dx(), h, color.Black)
	canvas = imaging.Paste(canvas, left, image.Pt(0, 0))
	canvas = imaging.Paste(canvas, right, image.Pt(leftW, 0))

	dc, out := newContext(canvas)
	drawString(dc, "Original", 10, 30, captionColor, captionFontSize)
	drawString(dc, "Annotated", float64(leftW+10), 30, captionColor, captionFontSize)

	return out
}

func fitHeight(img image.Image, h int) image.Image {
	if img.Bounds().Dy() == h {
		return img
	}
	return imaging.Resize(img, img.Bounds().Dx(), h, imaging.Linear)
}

func labelText(d models.Detection, s models.AnnotationSettings) string {
	if s.ShowConfidence {
		return fmt.Sprintf("%s: %.2f", d.ClassName, d.Confidence)
	}
	return d.ClassName
}

func drawDetections(dc *gg.Context, dets []models.Detection, s models.AnnotationSettings) {
	if !s.ShowBoxes && !s.ShowLabels {
		return
	}

	for _, d := range dets {
		col := ClassColor(d.ClassName)
		x1, y1 := float64(d.Box.X1), float64(d.Box.Y1)

		if s.ShowBoxes {
			dc.SetColor(col)
			dc.SetLineWidth(boxThickness)
			dc.DrawRectangle(x1, y1, float64(d.Box.Width()), float64(d.Box.Height()))
			dc.Stroke()
		}

		if s.ShowLabels {
			label := labelText(d, s)
			setFont(dc, labelFontSize)
			tw, th := dc.MeasureString(label)

			top := y1 - th - 6
			baseline := y1 - 2
			// keep labels of boxes touching the top edge inside the frame
			if top < 0 {
				top = y1
				baseline = y1 + th + 4
			}

			dc.SetColor(col)
			dc.DrawRectangle(x1, top, tw+4, th+6)
			dc.Fill()

			dc.SetColor(labelTextColor)
			dc.DrawString(label, x1+2, baseline)
		}
	}
}

func drawCount(dc *gg.Context, dets []models.Detection) {
	y := 40.0
	drawString(dc, fmt.Sprintf("Total: %d", len(dets)), 10, y, countColor, countTotalFontSize)

	order, counts := models.CountByClass(dets)
	for _, name := range order {
		y += countLineHeight
		drawString(dc, fmt.Sprintf("%s: %d", name, counts[name]), 10, y, countColor, countClassFontSize)
	}
}
