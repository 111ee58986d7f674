package overlay

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/ayusman/stationeye/internal/detector"
	"github.com/ayusman/stationeye/internal/settings"
)

// Drawing constants for boxes and labels.
const (
	LineWidth    = 2
	LabelHeight  = 20
	LabelPadding = 10 // added to the measured text width
	TextInset    = 5  // text offset from the box's left edge and top
	FontSize     = 14
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

var classColors = map[string]color.RGBA{
	settings.ClassToolbox:          {R: 0x3B, G: 0x82, B: 0xF6, A: 0xFF},
	settings.ClassOxygenTank:       {R: 0x22, G: 0xC5, B: 0x5E, A: 0xFF},
	settings.ClassFireExtinguisher: {R: 0xEF, G: 0x44, B: 0x44, A: 0xFF},
	settings.ClassOther:            {R: 0xEA, G: 0xB3, B: 0x08, A: 0xFF},
}

// ClassColor returns the box colour for a class. Unknown classes are white.
func ClassColor(class string) color.RGBA {
	if c, ok := classColors[class]; ok {
		return c
	}
	return color.RGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF}
}

// Label returns the text drawn above a detection.
func Label(d detector.Detection, showConfidence bool) string {
	if !showConfidence {
		return d.Class
	}
	return fmt.Sprintf("%s %d%%", d.Class, int(math.Round(d.Confidence*100)))
}

// drawDetections paints boxes and optional labels on a transparent canvas
// of the given size.
func drawDetections(size image.Point, dets []detector.Detection, cfg settings.Detection) *image.RGBA {
	dc := gg.NewContext(size.X, size.Y)
	dc.SetLineWidth(LineWidth)
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: FontSize}))

	for _, d := range dets {
		c := ClassColor(d.Class)
		x, y := float64(d.Box.X), float64(d.Box.Y)

		dc.SetColor(c)
		dc.DrawRectangle(x, y, float64(d.Box.Width), float64(d.Box.Height))
		dc.Stroke()

		if !cfg.ShowLabels {
			continue
		}

		text := Label(d, cfg.ShowConfidence)
		w, _ := dc.MeasureString(text)

		dc.DrawRectangle(x, y-LabelHeight, math.Ceil(w)+LabelPadding, LabelHeight)
		dc.Fill()

		dc.SetColor(color.White)
		dc.DrawString(text, x+TextInset, y-TextInset)
	}

	return toRGBA(dc.Image())
}

// drawAnnotated copies a decoded annotated image onto a canvas of its own
// native size.
func drawAnnotated(img image.Image) *image.RGBA {
	return toRGBA(gg.NewContextForImage(img).Image())
}

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	dc := gg.NewContext(b.Dx(), b.Dy())
	dc.DrawImage(img, -b.Min.X, -b.Min.Y)
	return dc.Image().(*image.RGBA)
}
