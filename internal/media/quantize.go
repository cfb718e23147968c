package media

import (
	"image"
	"image/color"
	"image/draw"

	"github.com/soniakeys/quant/median"
)

// exactLimit is how many pixels Quantize scans looking for a small exact
// palette before it hands the image to median cut.
const exactLimit = 1 << 16

// Quantize builds a palette of at most maxColors entries for img. Images with
// few colors keep them exactly; the rest go through median cut. When img has
// transparent pixels the last entry is fully transparent.
func Quantize(img image.Image, maxColors int) color.Palette {
	maxColors = max(2, min(maxColors, 256))

	transparent := hasTransparency(img)
	n := maxColors
	if transparent {
		n--
	}

	pal, ok := exactPalette(img, n)
	if !ok {
		pal = median.Quantizer(n).Quantize(make(color.Palette, 0, n), img)
		for i, c := range pal {
			nc := color.NRGBAModel.Convert(c).(color.NRGBA)
			nc.A = 255
			pal[i] = nc
		}
	}
	if len(pal) == 0 {
		pal = append(pal, color.NRGBA{A: 255})
	}
	if transparent {
		pal = append(pal, color.NRGBA{})
	}
	return pal
}

// exactPalette returns the distinct opaque colors of img when there are at
// most n of them.
func exactPalette(img image.Image, n int) (color.Palette, bool) {
	b := img.Bounds()
	if b.Dx()*b.Dy() > exactLimit {
		return nil, false
	}
	seen := make(map[color.NRGBA]struct{}, n)
	var pal color.Palette
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			if c.A < 128 {
				continue
			}
			c.A = 255
			if _, dup := seen[c]; dup {
				continue
			}
			if len(seen) == n {
				return nil, false
			}
			seen[c] = struct{}{}
			pal = append(pal, c)
		}
	}
	return pal, true
}

func hasTransparency(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok && o.Opaque() {
		return false
	}
	b := img.Bounds()
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			if _, _, _, a := img.At(x, y).RGBA(); a < 0x8000 {
				return true
			}
		}
	}
	return false
}

// ToPaletted maps img onto pal, optionally with Floyd-Steinberg error
// diffusion. Pixels with alpha < 128 use the transparent entry if pal has one.
func ToPaletted(img image.Image, pal color.Palette, dither bool) *image.Paletted {
	b := img.Bounds()
	dst := image.NewPaletted(image.Rect(0, 0, b.Dx(), b.Dy()), pal)
	if dither {
		draw.FloydSteinberg.Draw(dst, dst.Bounds(), img, b.Min)
	} else {
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	}

	t := transparentIndex(pal)
	if t < 0 {
		return dst
	}
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			if _, _, _, a := img.At(b.Min.X+x, b.Min.Y+y).RGBA(); a < 0x8000 {
				dst.Pix[y*dst.Stride+x] = uint8(t)
			}
		}
	}
	return dst
}

func transparentIndex(pal color.Palette) int {
	for i := len(pal) - 1; i >= 0; i-- {
		if _, _, _, a := pal[i].RGBA(); a == 0 {
			return i
		}
	}
	return -1
}
