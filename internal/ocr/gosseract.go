package ocr

import (
	"fmt"

	"github.com/otiai10/gosseract/v2"
)

// gosseractRecognizer wraps a single tesseract client reused across pages.
type gosseractRecognizer struct {
	client *gosseract.Client
}

func newGosseractRecognizer() (*gosseractRecognizer, error) {
	client := gosseract.NewClient()
	if err := client.SetLanguage("eng"); err != nil {
		client.Close()
		return nil, fmt.Errorf("set language: %w", err)
	}
	return &gosseractRecognizer{client: client}, nil
}

func (r *gosseractRecognizer) Close() {
	if r.client != nil {
		r.client.Close()
	}
}

// Recognize runs tesseract over one page image and returns the recognized
// text plus the raw per-word confidences (0-100, negative when tesseract
// has no estimate).
func (r *gosseractRecognizer) Recognize(pngBytes []byte) (string, []float64, error) {
	if err := r.client.SetImageFromBytes(pngBytes); err != nil {
		return "", nil, fmt.Errorf("set image: %w", err)
	}

	text, err := r.client.Text()
	if err != nil {
		return "", nil, fmt.Errorf("recognize: %w", err)
	}

	var confidences []float64
	boxes, err := r.client.GetBoundingBoxes(gosseract.RIL_WORD)
	if err == nil {
		for _, box := range boxes {
			confidences = append(confidences, box.Confidence)
		}
	}
	return text, confidences, nil
}
