package httpkit

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"gifmill/internal/pkg/errors"
)

// Form reads typed values from a parsed form (multipart or urlencoded).
// Empty values fall back to the default; malformed ones are validation errors.
type Form struct {
	r *http.Request
}

func NewForm(r *http.Request) Form { return Form{r: r} }

func (f Form) raw(key string) string {
	return strings.TrimSpace(f.r.FormValue(key))
}

func (f Form) Has(key string) bool { return f.raw(key) != "" }

func (f Form) String(key, def string) string {
	if v := f.raw(key); v != "" {
		return v
	}
	return def
}

// Values returns every non-empty value for a repeated key.
func (f Form) Values(key string) []string {
	var out []string
	if f.r.MultipartForm != nil {
		for _, v := range f.r.MultipartForm.Value[key] {
			if v = strings.TrimSpace(v); v != "" {
				out = append(out, v)
			}
		}
		return out
	}
	for _, v := range f.r.Form[key] {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func (f Form) Int(key string, def int) (int, error) {
	v := f.raw(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		// accept "12.0" from clients that send floats
		fl, ferr := strconv.ParseFloat(v, 64)
		if ferr != nil {
			return 0, errors.ValidationField(key, key+" must be an integer")
		}
		n = int(fl)
	}
	return n, nil
}

func (f Form) Float(key string, def float64) (float64, error) {
	v := f.raw(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.ValidationField(key, key+" must be a number")
	}
	return n, nil
}

// OptionalFloat returns nil when the key is absent.
func (f Form) OptionalFloat(key string) (*float64, error) {
	if !f.Has(key) {
		return nil, nil
	}
	n, err := f.Float(key, 0)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func (f Form) Bool(key string, def bool) bool {
	switch strings.ToLower(f.raw(key)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}

// JSON decodes a JSON-encoded form field into v. Absent keys leave v untouched.
func (f Form) JSON(key string, v any) error {
	raw := f.raw(key)
	if raw == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return errors.ValidationField(key, key+" must be valid JSON")
	}
	return nil
}
