package extract

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// OCR recognises text in a decoded image. orientation is the engine's
// confidence in the detected page orientation, in [0, 1].
type OCR interface {
	Recognize(ctx context.Context, img image.Image) (text string, orientation float64, err error)
}

// OCRFunc adapts a function to OCR.
type OCRFunc func(ctx context.Context, img image.Image) (string, float64, error)

func (f OCRFunc) Recognize(ctx context.Context, img image.Image) (string, float64, error) {
	return f(ctx, img)
}

// extractImage records dimensions and, when an OCR engine is configured,
// the recognised text.
func (p *Pipeline) extractImage(ctx context.Context, data []byte, _ string) Result {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return Fail(fmt.Errorf("image: %w", err))
	}
	rec := newRecord()
	rec.Metadata["width"] = fmt.Sprint(cfg.Width)
	rec.Metadata["height"] = fmt.Sprint(cfg.Height)
	rec.Metadata["image_format"] = format
	rec.Pages = []Page{{Number: 1, ImageCount: 1}}

	if p.cfg.OCR == nil {
		rec.warn("image: no OCR engine configured, metadata only")
		rec.Confidence = 0.1
		rec.Pages[0].Confidence = 0.1
		return OK(rec)
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Fail(fmt.Errorf("image decode: %w", err))
	}
	text, orientation, err := p.cfg.OCR.Recognize(ctx, img)
	if err != nil {
		rec.warn(fmt.Sprintf("image: ocr failed: %v", err))
		rec.Confidence = 0.1
		rec.Pages[0].Confidence = 0.1
		return OK(rec)
	}
	rec.RawText = text
	rec.Method = "ocr"
	rec.Confidence = min(max(0.1+0.5*orientation, 0.1), 0.6)
	rec.Pages[0].Text = text
	rec.Pages[0].Confidence = rec.Confidence
	return OK(rec)
}
