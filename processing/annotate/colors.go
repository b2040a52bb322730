package annotate

import "image/color"

var (
	FallbackColor = color.RGBA{0, 255, 0, 255}

	labelTextColor = color.RGBA{0, 0, 0, 255}
	countColor     = color.RGBA{0, 255, 0, 255}
	captionColor   = color.RGBA{255, 255, 255, 255}
)

var classColors = map[string]color.RGBA{
	"person":          {0, 255, 0, 255},
	"pedestrian":      {0, 255, 0, 255},
	"people":          {0, 200, 120, 255},
	"bicycle":         {255, 200, 0, 255},
	"motor":           {255, 128, 0, 255},
	"tricycle":        {255, 0, 200, 255},
	"awning-tricycle": {200, 0, 255, 255},
	"car":             {0, 160, 255, 255},
	"van":             {0, 80, 255, 255},
	"truck":           {255, 0, 0, 255},
	"bus":             {255, 255, 0, 255},
	"others":          {160, 160, 160, 255},
	"ignored regions": {90, 90, 90, 255},
}

// ClassColor returns the box and label background color for a class.
func ClassColor(className string) color.RGBA {
	if c, ok := classColors[className]; ok {
		return c
	}
	return FallbackColor
}
