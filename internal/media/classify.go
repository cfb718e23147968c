package media

import (
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Classification is the routing decision for a fetched file.
type Classification string

const (
	GIFInput   Classification = "gif"
	VideoInput Classification = "video"
	ImageInput Classification = "image"
	// OtherInput is anything the tools cannot consume.
	OtherInput Classification = "other"
)

// Classify sniffs path. GIF magic wins over everything else; the rest is
// decided by the detected MIME type.
func Classify(path string) (Classification, error) {
	if ok, err := IsGIFFile(path); err != nil {
		return OtherInput, err
	} else if ok {
		return GIFInput, nil
	}
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return OtherInput, err
	}
	return classifyMIME(mt.String()), nil
}

func classifyMIME(m string) Classification {
	switch {
	case m == "image/gif":
		return GIFInput
	case strings.HasPrefix(m, "video/"), m == "application/x-matroska":
		return VideoInput
	case strings.HasPrefix(m, "image/"):
		return ImageInput
	default:
		return OtherInput
	}
}
