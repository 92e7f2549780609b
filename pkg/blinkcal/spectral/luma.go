package spectral

import (
	"image"
	"image/color"
)

// Luminance returns Rec.601 luma of an 8-bit RGB triple normalised to [0,1].
func Luminance(r, g, b uint8) float64 {
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(b)) / 255
}

// LumaFromImage converts an image to a row-major luminance plane.
func LumaFromImage(img image.Image) (luma []float64, width, height int) {
	bounds := img.Bounds()
	width, height = bounds.Dx(), bounds.Dy()
	luma = make([]float64, width*height)

	switch src := img.(type) {
	case *image.Gray:
		for y := 0; y < height; y++ {
			off := src.PixOffset(bounds.Min.X, bounds.Min.Y+y)
			row := src.Pix[off : off+width]
			for x, v := range row {
				luma[y*width+x] = float64(v) / 255
			}
		}
	default:
		for y := 0; y < height; y++ {
			for x := 0; x < width; x++ {
				c := color.NRGBAModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.NRGBA)
				luma[y*width+x] = Luminance(c.R, c.G, c.B)
			}
		}
	}
	return luma, width, height
}
