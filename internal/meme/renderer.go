// Package meme генерирует изображение мема по верхнему и нижнему тексту.
package meme

import (
	"bytes"
	"encoding/xml"
	"fmt"
)

const (
	imageWidth  = 600
	imageHeight = 450
)

// SVGRenderer рисует мем как SVG-документ с текстом поверх однотонного фона.
type SVGRenderer struct{}

// NewSVGRenderer создаёт генератор SVG-мемов.
func NewSVGRenderer() *SVGRenderer {
	return &SVGRenderer{}
}

// ContentType возвращает MIME-тип генерируемых изображений.
func (r *SVGRenderer) ContentType() string {
	return "image/svg+xml"
}

// Render возвращает байты SVG-изображения с указанным текстом.
func (r *SVGRenderer) Render(topText, bottomText string) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString(fmt.Sprintf(
		`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d">`,
		imageWidth, imageHeight, imageWidth, imageHeight,
	))
	buf.WriteString(fmt.Sprintf(`<rect width="%d" height="%d" fill="#4a5568"/>`, imageWidth, imageHeight))

	if topText != "" {
		if err := writeCaption(&buf, topText, 60); err != nil {
			return nil, err
		}
	}
	if bottomText != "" {
		if err := writeCaption(&buf, bottomText, imageHeight-40); err != nil {
			return nil, err
		}
	}

	buf.WriteString(`</svg>`)
	return buf.Bytes(), nil
}

func writeCaption(buf *bytes.Buffer, text string, y int) error {
	buf.WriteString(fmt.Sprintf(
		`<text x="%d" y="%d" text-anchor="middle" font-family="Impact, sans-serif" font-size="42" fill="#ffffff" stroke="#000000" stroke-width="2">`,
		imageWidth/2, y,
	))
	if err := xml.EscapeText(buf, []byte(text)); err != nil {
		return fmt.Errorf("escape caption: %w", err)
	}
	buf.WriteString(`</text>`)
	return nil
}
