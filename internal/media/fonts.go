package media

import (
	"fmt"
	"image/color"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/gobold"
	"golang.org/x/image/font/gofont/gomono"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/opentype"

	"gifmill/internal/pkg/logger"
)

// FontBook resolves font families to faces: a file in the font dir first,
// then the bundled Go fonts, then basicfont.
type FontBook struct {
	dir string
	log *logger.Logger

	mu     sync.Mutex
	parsed map[string]*opentype.Font
}

func NewFontBook(dir string, log *logger.Logger) *FontBook {
	return &FontBook{dir: dir, log: log, parsed: make(map[string]*opentype.Font)}
}

// familyFiles lists file names tried in the font dir per family.
var familyFiles = map[string][]string{
	"arial":           {"DejaVuSans.ttf", "Arial.ttf"},
	"helvetica":       {"DejaVuSans.ttf", "Helvetica.ttf"},
	"verdana":         {"DejaVuSans.ttf", "Verdana.ttf"},
	"times new roman": {"DejaVuSerif.ttf", "Times New Roman.ttf"},
	"georgia":         {"DejaVuSerif.ttf", "Georgia.ttf"},
	"courier new":     {"DejaVuSansMono.ttf", "Courier New.ttf"},
	"comic sans ms":   {"ComicNeue-Regular.ttf"},
	"impact":          {"impact.ttf", "Impact.ttf"},
}

// builtinFor picks the bundled Go font closest to family.
func builtinFor(family string) (string, []byte) {
	f := strings.ToLower(family)
	switch {
	case strings.Contains(f, "mono"), strings.Contains(f, "courier"), strings.Contains(f, "consolas"):
		return "builtin:mono", gomono.TTF
	case strings.Contains(f, "bold"), f == "impact":
		return "builtin:bold", gobold.TTF
	default:
		return "builtin:regular", goregular.TTF
	}
}

// Face returns a face for family at size. fontPath, when set, is tried
// first and must be a file the worker placed itself.
func (b *FontBook) Face(family, fontPath string, size float64) font.Face {
	if size < 1 {
		size = 1
	}
	var candidates []string
	if fontPath != "" {
		candidates = append(candidates, fontPath)
	}
	if b.dir != "" {
		key := strings.ToLower(strings.TrimSpace(family))
		for _, name := range familyFiles[key] {
			candidates = append(candidates, filepath.Join(b.dir, name))
		}
		if family != "" {
			base := filepath.Base(family)
			candidates = append(candidates, filepath.Join(b.dir, base+".ttf"), filepath.Join(b.dir, base+".otf"))
		}
	}
	for _, path := range candidates {
		f, err := b.load(path, nil)
		if err != nil {
			continue
		}
		if face, err := newFace(f, size); err == nil {
			return face
		}
	}

	name, data := builtinFor(family)
	if f, err := b.load(name, data); err == nil {
		if face, err := newFace(f, size); err == nil {
			return face
		}
	}
	b.log.Warn("no scalable font available, using basicfont", "family", family)
	return basicfont.Face7x13
}

func (b *FontBook) load(key string, data []byte) (*opentype.Font, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if f, ok := b.parsed[key]; ok {
		return f, nil
	}
	if data == nil {
		raw, err := os.ReadFile(key)
		if err != nil {
			return nil, err
		}
		data = raw
	}
	f, err := opentype.Parse(data)
	if err != nil {
		b.log.Warn("font parse failed", "font", filepath.Base(key), "error", err.Error())
		return nil, err
	}
	b.parsed[key] = f
	return f, nil
}

func newFace(f *opentype.Font, size float64) (font.Face, error) {
	return opentype.NewFace(f, &opentype.FaceOptions{Size: size, DPI: 72, Hinting: font.HintingFull})
}

var namedColors = map[string]color.NRGBA{
	"white":   {255, 255, 255, 255},
	"black":   {0, 0, 0, 255},
	"red":     {255, 0, 0, 255},
	"green":   {0, 128, 0, 255},
	"blue":    {0, 0, 255, 255},
	"yellow":  {255, 255, 0, 255},
	"orange":  {255, 165, 0, 255},
	"purple":  {128, 0, 128, 255},
	"pink":    {255, 192, 203, 255},
	"gray":    {128, 128, 128, 255},
	"grey":    {128, 128, 128, 255},
	"cyan":    {0, 255, 255, 255},
	"magenta": {255, 0, 255, 255},
}

// ParseColor accepts #rgb, #rrggbb, #rrggbbaa and a few color names.
func ParseColor(s string) (color.NRGBA, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if c, ok := namedColors[s]; ok {
		return c, nil
	}
	hex := strings.TrimPrefix(s, "#")
	if len(hex) == 3 {
		hex = string([]byte{hex[0], hex[0], hex[1], hex[1], hex[2], hex[2]})
	}
	if len(hex) == 6 {
		hex += "ff"
	}
	if len(hex) != 8 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q", s)
	}
	return color.NRGBA{R: uint8(v >> 24), G: uint8(v >> 16), B: uint8(v >> 8), A: uint8(v)}, nil
}
