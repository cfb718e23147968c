package media

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/math/fixed"
	"golang.org/x/text/unicode/norm"

	"gifmill/internal/pkg/errors"
)

// Animation styles for text layers.
const (
	AnimNone    = "none"
	AnimFade    = "fade"
	AnimSlideUp = "slide_up"
)

// TextLayer is one block of text drawn over a frame range. EndFrame < 0
// means the last frame; the range is inclusive.
type TextLayer struct {
	Text            string  `json:"text"`
	FontFamily      string  `json:"font_family"`
	FontSize        int     `json:"font_size"`
	Color           string  `json:"color"`
	StrokeColor     string  `json:"stroke_color"`
	StrokeWidth     int     `json:"stroke_width"`
	HorizontalAlign string  `json:"horizontal_align"`
	VerticalAlign   string  `json:"vertical_align"`
	OffsetX         int     `json:"offset_x"`
	OffsetY         int     `json:"offset_y"`
	StartFrame      int     `json:"start_frame"`
	EndFrame        int     `json:"end_frame"`
	AnimationStyle  string  `json:"animation_style"`
	MaxWidthRatio   float64 `json:"max_width_ratio"`
	LineHeight      float64 `json:"line_height"`
	AutoFit         *bool   `json:"auto_fit,omitempty"`
	FontPath        string  `json:"font_path,omitempty"`
}

func (l TextLayer) withDefaults() TextLayer {
	if l.FontFamily == "" {
		l.FontFamily = "Arial"
	}
	if l.FontSize <= 0 {
		l.FontSize = 24
	}
	if l.Color == "" {
		l.Color = "#ffffff"
	}
	if l.StrokeColor == "" {
		l.StrokeColor = "#000000"
	}
	if l.HorizontalAlign == "" {
		l.HorizontalAlign = "center"
	}
	if l.VerticalAlign == "" {
		l.VerticalAlign = "middle"
	}
	if l.AnimationStyle == "" {
		l.AnimationStyle = AnimNone
	}
	if l.MaxWidthRatio <= 0 || l.MaxWidthRatio > 1 {
		l.MaxWidthRatio = 0.95
	}
	if l.LineHeight <= 0 {
		l.LineHeight = 1.2
	}
	l.StrokeWidth = max(0, l.StrokeWidth)
	l.Text = norm.NFC.String(l.Text)
	return l
}

func (l TextLayer) autoFit() bool { return l.AutoFit == nil || *l.AutoFit }

// FrameRange converts layer times in seconds to an inclusive frame range.
// fps comes from the first frame delay (10 when it is 0). A nil end means
// the last frame.
func FrameRange(startSec float64, endSec *float64, firstDelayMS, frames int) (int, int) {
	fps := 10.0
	if firstDelayMS > 0 {
		fps = 1000 / float64(firstDelayMS)
	}
	start := int(math.Round(startSec * fps))
	end := frames - 1
	if endSec != nil {
		end = int(math.Round(*endSec * fps))
	}
	return start, end
}

type AddTextRequest struct {
	Input     string
	OutputDir string
	Layers    []TextLayer
	// Resolve, when set, replaces Layers once the input is present. It runs
	// inside Run, so its failures are recorded like any other.
	Resolve func(ctx context.Context, input string) ([]TextLayer, error)
}

func (r AddTextRequest) Options() string {
	var b strings.Builder
	fmt.Fprintf(&b, "layers=%d", len(r.Layers))
	for i, l := range r.Layers {
		fmt.Fprintf(&b, "; [%d] size=%d font=%s anim=%s frames=%d..%d", i, l.FontSize, l.FontFamily, l.AnimationStyle, l.StartFrame, l.EndFrame)
	}
	return b.String()
}

// AddText draws a single layer; it is AddTextLayers under the add-text tool name.
func (e *Executor) AddText(ctx context.Context, taskID string, req AddTextRequest) (*Outcome, error) {
	return e.addText(ctx, ToolAddText, "text", taskID, req)
}

func (e *Executor) AddTextLayers(ctx context.Context, taskID string, req AddTextRequest) (*Outcome, error) {
	return e.addText(ctx, ToolAddTextLayers, "text_layers", taskID, req)
}

func (e *Executor) addText(ctx context.Context, tool, prefix, taskID string, req AddTextRequest) (*Outcome, error) {
	inv := Invocation{
		Tool:      tool,
		TaskID:    taskID,
		InputType: InputGIF,
		Inputs:    []string{req.Input},
		Options:   req.Options(),
	}
	return e.Run(ctx, inv, func(ctx context.Context, _ []string) (*Outcome, error) {
		layers := req.Layers
		if req.Resolve != nil {
			var err error
			if layers, err = req.Resolve(ctx, req.Input); err != nil {
				return nil, err
			}
		}
		if len(layers) == 0 {
			return nil, errors.Validation("At least one text layer is required.")
		}
		anim, err := decodeGIFInput(req.Input)
		if err != nil {
			return nil, err
		}
		b := anim.Bounds()
		stats := InputStats{Width: b.Dx(), Height: b.Dy(), Frames: anim.Len()}
		total := anim.Len()

		budget := e.cfg.Budget.Apply(anim)
		for _, raw := range layers {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			layer := raw.withDefaults()
			if strings.TrimSpace(layer.Text) == "" {
				continue
			}
			if layer.EndFrame < 0 {
				layer.EndFrame = total - 1
			}
			if err := e.drawLayer(anim, layer, budget); err != nil {
				return nil, err
			}
		}
		return e.writeGIF(req.OutputDir, req.Input, prefix, anim, EncodeOptions{}, stats)
	})
}

// textBlock is a laid out layer, ready to be drawn on any frame.
type textBlock struct {
	face       font.Face
	lines      []string
	widths     []int
	lineHeight int
	ascent     int
	width      int
	height     int
	align      string
	x, y       int
}

func (e *Executor) drawLayer(anim *Animation, layer TextLayer, budget BudgetResult) error {
	fill, err := ParseColor(layer.Color)
	if err != nil {
		return errors.ValidationField("color", "Invalid text color.")
	}
	stroke, err := ParseColor(layer.StrokeColor)
	if err != nil {
		return errors.ValidationField("stroke_color", "Invalid stroke color.")
	}

	scale := budget.Scale
	if scale <= 0 {
		scale = 1
	}
	strokeWidth := layer.StrokeWidth
	if strokeWidth > 0 {
		strokeWidth = max(1, int(float64(strokeWidth)*scale))
	}

	bounds := anim.Bounds()
	block := e.layout(layer, bounds.Dx(), bounds.Dy(), scale)
	defer block.face.Close()

	for i, frame := range anim.Frames {
		src := i
		if i < len(budget.Source) {
			src = budget.Source[i]
		}
		if src < layer.StartFrame || src > layer.EndFrame {
			continue
		}
		p := progress(src, layer.StartFrame, layer.EndFrame)
		alpha, dy := 1.0, 0
		switch layer.AnimationStyle {
		case AnimFade:
			alpha = p
		case AnimSlideUp:
			dy = int(50 * (1 - p))
		}
		drawBlock(frame, block, dy, withAlpha(fill, alpha), withAlpha(stroke, alpha), strokeWidth)
	}
	return nil
}

func (e *Executor) layout(layer TextLayer, w, h int, scale float64) *textBlock {
	size := float64(layer.FontSize) * scale
	maxWidth := int(layer.MaxWidthRatio * float64(w))

	block := measure(e.fonts.Face(layer.FontFamily, layer.FontPath, size), layer, maxWidth)
	if layer.autoFit() {
		for guard := 0; guard < 50 && float64(block.height) > 0.95*float64(h) && size > 8; guard++ {
			size = math.Max(8, math.Floor(size*0.9))
			block.face.Close()
			block = measure(e.fonts.Face(layer.FontFamily, layer.FontPath, size), layer, maxWidth)
		}
	}

	block.align = layer.HorizontalAlign
	switch layer.HorizontalAlign {
	case "left":
		block.x = 0
	case "right":
		block.x = w - block.width
	default:
		block.x = (w - block.width) / 2
	}
	switch layer.VerticalAlign {
	case "top":
		block.y = 0
	case "bottom":
		block.y = h - block.height
	default:
		block.y = (h - block.height) / 2
	}
	block.x += int(float64(layer.OffsetX) * scale)
	block.y += int(float64(layer.OffsetY) * scale)
	return block
}

func measure(face font.Face, layer TextLayer, maxWidth int) *textBlock {
	m := face.Metrics()
	ascent, descent := m.Ascent.Ceil(), m.Descent.Ceil()
	block := &textBlock{
		face:       face,
		lines:      WrapText(layer.Text, face, maxWidth),
		ascent:     ascent,
		lineHeight: max(10, int(float64(ascent+descent+2)*layer.LineHeight)),
	}
	for _, line := range block.lines {
		lw := font.MeasureString(face, line).Ceil()
		block.widths = append(block.widths, lw)
		block.width = max(block.width, lw)
	}
	block.height = max(1, len(block.lines)) * block.lineHeight
	return block
}

// WrapText breaks text into lines no wider than maxWidth. Explicit newlines
// are kept; a word wider than maxWidth gets a line of its own.
func WrapText(text string, face font.Face, maxWidth int) []string {
	var lines []string
	for _, para := range strings.Split(text, "\n") {
		line := ""
		for _, word := range strings.Fields(para) {
			candidate := strings.TrimSpace(line + " " + word)
			if line == "" || font.MeasureString(face, candidate).Ceil() <= maxWidth {
				line = candidate
				continue
			}
			lines = append(lines, line)
			line = word
		}
		if line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

func progress(f, start, end int) float64 {
	p := float64(f-start) / float64(max(1, end-start))
	return math.Max(0, math.Min(1, p))
}

func withAlpha(c color.NRGBA, a float64) color.NRGBA {
	c.A = uint8(math.Round(float64(c.A) * a))
	return c
}

func drawBlock(dst *image.NRGBA, b *textBlock, dy int, fill, stroke color.NRGBA, strokeWidth int) {
	if fill.A == 0 && stroke.A == 0 {
		return
	}
	d := &font.Drawer{Dst: dst, Face: b.face}
	for i, line := range b.lines {
		x := b.x
		switch b.align {
		case "left":
		case "right":
			x += b.width - b.widths[i]
		default:
			x += (b.width - b.widths[i]) / 2
		}
		y := b.y + dy + i*b.lineHeight + b.ascent

		if strokeWidth > 0 && stroke.A > 0 {
			d.Src = image.NewUniform(stroke)
			for ox := -strokeWidth; ox <= strokeWidth; ox++ {
				for oy := -strokeWidth; oy <= strokeWidth; oy++ {
					if ox == 0 && oy == 0 {
						continue
					}
					d.Dot = fixed.P(x+ox, y+oy)
					d.DrawString(line)
				}
			}
		}
		d.Src = image.NewUniform(fill)
		d.Dot = fixed.P(x, y)
		d.DrawString(line)
	}
}
