package handlers

import (
	"encoding/base64"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"gifmill/internal/httpkit"
	"gifmill/internal/jobs"
	"gifmill/internal/media"
	"gifmill/internal/pkg/errors"
)

// maxLayers caps the text layers accepted in one request.
const maxLayers = 20

// AddText draws one text layer. start_time and end_time are seconds; the
// worker maps them to frames once it has the GIF.
func (h *Handler) AddText(w http.ResponseWriter, r *http.Request) (err error) {
	ctx := r.Context()
	if err := parseForm(r); err != nil {
		return err
	}
	layer, err := layerFromForm(httpkit.NewForm(r))
	if err != nil {
		return err
	}

	dir, err := h.workDir()
	if err != nil {
		return err
	}
	defer h.discardOnError(ctx, dir, &err)

	op := jobs.Task{Kind: jobs.KindAddText, Args: jobs.AddTextArgs{OutputDir: dir, Layers: []jobs.LayerSpec{layer}}}
	id, err := h.submitGIFOnInput(r, dir, op)
	return h.accepted(w, r, jobs.KindAddText, id, err)
}

func layerFromForm(f httpkit.Form) (jobs.LayerSpec, error) {
	l := jobs.LayerSpec{
		TextLayer: media.TextLayer{
			Text:            f.String("text", "Sample Text"),
			FontFamily:      f.String("font_family", "Arial"),
			Color:           f.String("color", "#ffffff"),
			StrokeColor:     f.String("stroke_color", "#000000"),
			HorizontalAlign: f.String("horizontal_align", "center"),
			VerticalAlign:   f.String("vertical_align", "middle"),
			AnimationStyle:  f.String("animation_style", media.AnimNone),
			EndFrame:        -1,
		},
		Timed:   true,
		FontURL: f.String("font_url", ""),
	}
	var err error
	if l.FontSize, err = f.Int("font_size", 20); err != nil {
		return l, err
	}
	if l.StrokeWidth, err = f.Int("stroke_width", 1); err != nil {
		return l, err
	}
	if l.OffsetX, err = f.Int("offset_x", 0); err != nil {
		return l, err
	}
	if l.OffsetY, err = f.Int("offset_y", 0); err != nil {
		return l, err
	}
	if l.StartTime, err = f.Float("start_time", 0); err != nil {
		return l, err
	}
	if l.EndTime, err = f.OptionalFloat("end_time"); err != nil {
		return l, err
	}
	return l, checkLayers([]jobs.LayerSpec{l})
}

// AddTextLayers draws a JSON array of layers (form field "layers").
func (h *Handler) AddTextLayers(w http.ResponseWriter, r *http.Request) (err error) {
	ctx := r.Context()
	if err := parseForm(r); err != nil {
		return err
	}
	form := httpkit.NewForm(r)
	if !form.Has("layers") {
		return errors.Validation("Missing layers data")
	}
	var layers []jobs.LayerSpec
	if form.JSON("layers", &layers) != nil {
		return errors.Validation("Invalid layers JSON")
	}
	if err := checkLayers(timed(layers)); err != nil {
		return err
	}

	dir, err := h.workDir()
	if err != nil {
		return err
	}
	defer h.discardOnError(ctx, dir, &err)

	op := jobs.Task{Kind: jobs.KindAddTextLayers, Args: jobs.AddTextArgs{OutputDir: dir, Layers: layers}}
	id, err := h.submitGIFOnInput(r, dir, op)
	return h.accepted(w, r, jobs.KindAddTextLayers, id, err)
}

// timed marks every layer as positioned by seconds and drops client font
// paths; only font_url may bring a font in.
func timed(layers []jobs.LayerSpec) []jobs.LayerSpec {
	for i := range layers {
		layers[i].Timed = true
		layers[i].FontPath = ""
	}
	return layers
}

func checkLayers(layers []jobs.LayerSpec) error {
	if len(layers) == 0 {
		return errors.Validation("Missing layers data")
	}
	if len(layers) > maxLayers {
		return errors.Validationf("At most %d text layers are allowed", maxLayers)
	}
	for i, l := range layers {
		if l.EndTime != nil && *l.EndTime < l.StartTime {
			return errors.Validationf("Layer %d ends before it starts", i+1)
		}
		if l.StartTime < 0 {
			return errors.Validationf("Layer %d has a negative start_time", i+1)
		}
		for _, c := range []string{l.Color, l.StrokeColor} {
			if c == "" {
				continue
			}
			if _, err := media.ParseColor(c); err != nil {
				return errors.Validationf("Layer %d has an invalid color: %s", i+1, c)
			}
		}
	}
	return nil
}

// submitGIFOnInput is submitOnInput for text endpoints: an uploaded file
// must already be a GIF, since it is probed for frame timing.
func (h *Handler) submitGIFOnInput(r *http.Request, dir string, op jobs.Task) (string, error) {
	ctx := r.Context()
	form := httpkit.NewForm(r)
	if form.Has("url") {
		return h.submitOnInput(ctx, r, dir, gifExtensions, op)
	}
	path, err := saveUpload(r, "file", dir, gifExtensions)
	if err != nil {
		return "", err
	}
	if ok, _ := media.IsGIFFile(path); !ok {
		return "", errors.Validation("Uploaded file is not a valid GIF image.")
	}
	op.Inputs = []string{path}
	return h.orch.Submit(ctx, op)
}

// aiTextRequest is the JSON body of /ai/add-text. Without layers the flat
// fields describe a single layer; several legacy aliases are accepted.
type aiTextRequest struct {
	URL        string           `json:"url"`
	Base64Data string           `json:"base64_data"`
	Layers     []jobs.LayerSpec `json:"layers"`

	Text            string   `json:"text"`
	FontFamily      string   `json:"font_family"`
	Font            string   `json:"font"`
	FontSize        *int     `json:"font_size"`
	Color           string   `json:"color"`
	FontColor       string   `json:"font_color"`
	StrokeColor     string   `json:"stroke_color"`
	StrokeWidth     *int     `json:"stroke_width"`
	OutlineWidth    *int     `json:"outline_width"`
	HorizontalAlign string   `json:"horizontal_align"`
	VerticalAlign   string   `json:"vertical_align"`
	Position        *string  `json:"position"`
	OffsetX         *int     `json:"offset_x"`
	XOffset         *int     `json:"x_offset"`
	OffsetY         *int     `json:"offset_y"`
	YOffset         *int     `json:"y_offset"`
	StartTime       float64  `json:"start_time"`
	EndTime         *float64 `json:"end_time"`
	AnimationStyle  string   `json:"animation_style"`
	MaxWidthRatio   float64  `json:"max_width_ratio"`
	LineHeight      float64  `json:"line_height"`
	AutoFit         *bool    `json:"auto_fit"`
	FontURL         string   `json:"font_url"`
}

func firstInt(def int, vals ...*int) int {
	for _, v := range vals {
		if v != nil {
			return *v
		}
	}
	return def
}

func firstString(def string, vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return def
}

// alignFromPosition maps positions such as "top-left" or "bottom-center".
func alignFromPosition(pos *string) (string, string) {
	if pos == nil {
		return "center", "middle"
	}
	p := strings.ToLower(*pos)
	h := "center"
	switch {
	case strings.Contains(p, "left"):
		h = "left"
	case strings.Contains(p, "right"):
		h = "right"
	}
	v := "middle"
	switch {
	case strings.Contains(p, "top"):
		v = "top"
	case strings.Contains(p, "bottom"):
		v = "bottom"
	}
	return h, v
}

func (req aiTextRequest) layers() []jobs.LayerSpec {
	if len(req.Layers) > 0 {
		return timed(req.Layers)
	}
	hAlign, vAlign := alignFromPosition(req.Position)
	return []jobs.LayerSpec{{
		TextLayer: media.TextLayer{
			Text:            req.Text,
			FontFamily:      firstString("Arial", req.FontFamily, req.Font),
			FontSize:        firstInt(24, req.FontSize),
			Color:           firstString("#ffffff", req.Color, req.FontColor),
			StrokeColor:     firstString("#000000", req.StrokeColor),
			StrokeWidth:     firstInt(0, req.StrokeWidth, req.OutlineWidth),
			HorizontalAlign: firstString(hAlign, req.HorizontalAlign),
			VerticalAlign:   firstString(vAlign, req.VerticalAlign),
			OffsetX:         firstInt(0, req.XOffset, req.OffsetX),
			OffsetY:         firstInt(0, req.YOffset, req.OffsetY),
			EndFrame:        -1,
			AnimationStyle:  firstString(media.AnimNone, req.AnimationStyle),
			MaxWidthRatio:   req.MaxWidthRatio,
			LineHeight:      req.LineHeight,
			AutoFit:         req.AutoFit,
		},
		Timed:     true,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		FontURL:   req.FontURL,
	}}
}

// AIAddText is the JSON flavour of add-text-layers. The GIF comes from a
// URL or inline base64 data.
func (h *Handler) AIAddText(w http.ResponseWriter, r *http.Request) (err error) {
	ctx := r.Context()
	var req aiTextRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}
	if req.URL == "" && req.Base64Data == "" {
		return errors.Validation("Provide either 'url' or 'base64_data'")
	}
	layers := req.layers()
	if err := checkLayers(layers); err != nil {
		return err
	}

	dir, err := h.workDir()
	if err != nil {
		return err
	}
	defer h.discardOnError(ctx, dir, &err)

	op := jobs.Task{Kind: jobs.KindAddTextLayers, Args: jobs.AddTextArgs{OutputDir: dir, Layers: layers}}
	var id string
	if req.URL != "" {
		var fetch jobs.Task
		if fetch, err = h.fetchStage(req.URL, dir); err == nil {
			id, err = h.orch.SubmitChain(ctx, fetch, op)
		}
		return h.accepted(w, r, jobs.KindAddTextLayers, id, err)
	}

	path, err := writeBase64GIF(req.Base64Data, dir)
	if err == nil {
		op.Inputs = []string{path}
		id, err = h.orch.Submit(ctx, op)
	}
	return h.accepted(w, r, jobs.KindAddTextLayers, id, err)
}

// writeBase64GIF decodes data (optionally a data: URL) into dir.
func writeBase64GIF(data, dir string) (string, error) {
	if strings.HasPrefix(data, "data:") {
		if i := strings.IndexByte(data, ','); i >= 0 {
			data = data[i+1:]
		}
	}
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(data))
	if err != nil {
		return "", errors.ValidationField("base64_data", "Invalid base64_data")
	}
	if !media.HasGIFMagic(raw) {
		return "", errors.Validation("Invalid GIF provided")
	}
	path := filepath.Join(dir, "b64_"+strings.ReplaceAll(uuid.NewString(), "-", "")+".gif")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return "", errors.Wrap(err, "handlers.writeBase64GIF", "write gif")
	}
	return path, nil
}
