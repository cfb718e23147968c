package media

import (
	"bufio"
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/gif"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// Animation is a decoded GIF with every frame composited onto the full
// canvas, so frames can be edited independently.
type Animation struct {
	Frames []*image.NRGBA
	// DelaysMS holds per-frame display time in milliseconds.
	DelaysMS []int
	// LoopCount follows image/gif: 0 loops forever, -1 plays once.
	LoopCount int
}

func (a *Animation) Len() int { return len(a.Frames) }

func (a *Animation) Bounds() image.Rectangle {
	if len(a.Frames) == 0 {
		return image.Rectangle{}
	}
	return a.Frames[0].Bounds()
}

// EncodeOptions controls palette generation when writing a GIF.
type EncodeOptions struct {
	Colors int
	Dither bool
}

var gifMagic = [][]byte{[]byte("GIF87a"), []byte("GIF89a")}

// HasGIFMagic reports whether head starts with a GIF signature.
func HasGIFMagic(head []byte) bool {
	for _, m := range gifMagic {
		if bytes.HasPrefix(head, m) {
			return true
		}
	}
	return false
}

// IsGIFFile checks the file's first six bytes.
func IsGIFFile(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	head := make([]byte, 6)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	return HasGIFMagic(head[:n]), nil
}

// DecodeFile reads and composites the GIF at path.
func DecodeFile(path string) (*Animation, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Decode(bufio.NewReader(f))
}

func Decode(r io.Reader) (*Animation, error) {
	g, err := gif.DecodeAll(r)
	if err != nil {
		return nil, fmt.Errorf("decode gif: %w", err)
	}
	if len(g.Image) == 0 {
		return nil, fmt.Errorf("decode gif: no frames")
	}

	w, h := g.Config.Width, g.Config.Height
	if w == 0 || h == 0 {
		b := g.Image[0].Bounds()
		w, h = b.Max.X, b.Max.Y
	}
	canvas := image.NewNRGBA(image.Rect(0, 0, w, h))

	a := &Animation{LoopCount: g.LoopCount}
	for i, pm := range g.Image {
		disposal := byte(0)
		if i < len(g.Disposal) {
			disposal = g.Disposal[i]
		}
		var saved *image.NRGBA
		if disposal == gif.DisposalPrevious {
			saved = cloneNRGBA(canvas)
		}

		draw.Draw(canvas, pm.Bounds(), pm, pm.Bounds().Min, draw.Over)
		a.Frames = append(a.Frames, cloneNRGBA(canvas))
		a.DelaysMS = append(a.DelaysMS, g.Delay[i]*10)

		switch disposal {
		case gif.DisposalBackground:
			draw.Draw(canvas, pm.Bounds(), image.Transparent, image.Point{}, draw.Src)
		case gif.DisposalPrevious:
			canvas = saved
		}
	}
	return a, nil
}

// Encode writes a as a GIF. Each frame gets its own palette.
func Encode(w io.Writer, a *Animation, opt EncodeOptions) error {
	if len(a.Frames) == 0 {
		return fmt.Errorf("encode gif: no frames")
	}
	if opt.Colors == 0 {
		opt.Colors = 256
	}
	b := a.Bounds()
	out := &gif.GIF{
		LoopCount: a.LoopCount,
		Config:    image.Config{Width: b.Dx(), Height: b.Dy()},
	}
	for i, f := range a.Frames {
		pal := Quantize(f, opt.Colors)
		out.Image = append(out.Image, ToPaletted(f, pal, opt.Dither))
		out.Delay = append(out.Delay, msToCentis(delayAt(a.DelaysMS, i)))
		out.Disposal = append(out.Disposal, gif.DisposalBackground)
	}
	return gif.EncodeAll(w, out)
}

// EncodeFile writes atomically: a temp sibling is renamed into place.
func EncodeFile(path string, a *Animation, opt EncodeOptions) error {
	tmp := filepath.Join(filepath.Dir(path), ".tmp-"+uuid.NewString()+".gif")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	err = Encode(bw, a, opt)
	if err == nil {
		err = bw.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func msToCentis(ms int) int {
	if ms <= 0 {
		return 0
	}
	return (ms + 5) / 10
}

func delayAt(delays []int, i int) int {
	if i < len(delays) {
		return delays[i]
	}
	if len(delays) > 0 {
		return delays[len(delays)-1]
	}
	return 100
}

func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	dst := image.NewNRGBA(src.Bounds())
	copy(dst.Pix, src.Pix)
	return dst
}
