package capture

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"net/url"
	"strings"
	"sync"

	"github.com/fogleman/gg"
	"github.com/glaslos/ssdeep"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gomedium"
)

// Image is an encoded PNG screenshot.
type Image []byte

const (
	imprintPadding = 20
	imprintBorder  = 1
)

// Dimensions returns the pixel size of the image.
func (img Image) Dimensions() (width, height int, err error) {
	cfg, err := png.DecodeConfig(bytes.NewReader(img))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to decode image: %w", err)
	}
	return cfg.Width, cfg.Height, nil
}

// AddTextToImage adds a band with the origin of rawURL to the bottom of the image.
func (img Image) AddTextToImage(rawURL string) (Image, error) {
	origin, err := imprintText(rawURL)
	if err != nil {
		return nil, err
	}

	src, err := png.Decode(bytes.NewReader(img))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	face, err := imprintFace()
	if err != nil {
		return nil, err
	}

	w := src.Bounds().Dx()
	h := src.Bounds().Dy() + imprintPadding*2 + imprintBorder
	dc := gg.NewContext(w, h)

	dc.DrawImage(src, 0, 0)

	yLine := float64(src.Bounds().Dy())
	dc.SetColor(color.White)
	dc.DrawRectangle(0, yLine, float64(w), float64(h)-yLine)
	dc.Fill()
	dc.SetColor(color.Black)
	dc.SetLineWidth(imprintBorder)
	dc.DrawLine(0, yLine, float64(w), yLine)
	dc.Stroke()
	dc.SetFontFace(face)
	dc.DrawStringAnchored(origin, float64(w)/2, yLine+imprintPadding, 0.5, 0.5)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}

// imprintText returns scheme://host of rawURL, without the port when it is
// the scheme's default.
func imprintText(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("failed to parse URL: %w", err)
	}

	host := u.Host
	if hostname, port, ok := strings.Cut(host, ":"); ok {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			host = hostname
		}
	}

	return u.Scheme + "://" + host, nil
}

// Similarity returns the ssdeep match score (0-100) of two images.
// Images below the ssdeep minimum input size return an error.
func (img Image) Similarity(other Image) (int, error) {
	h1, err := ssdeep.FuzzyBytes(img)
	if err != nil {
		return 0, fmt.Errorf("hashing image: %w", err)
	}
	h2, err := ssdeep.FuzzyBytes(other)
	if err != nil {
		return 0, fmt.Errorf("hashing image: %w", err)
	}
	return ssdeep.Distance(h1, h2)
}

var (
	fontOnce sync.Once
	ttFont   *truetype.Font
	fontErr  error
)

// imprintFace returns a new face per call; faces cache glyphs and are not
// safe for concurrent use.
func imprintFace() (font.Face, error) {
	fontOnce.Do(func() {
		ttFont, fontErr = truetype.Parse(gomedium.TTF)
		if fontErr != nil {
			fontErr = fmt.Errorf("failed to parse font: %w", fontErr)
		}
	})
	if fontErr != nil {
		return nil, fontErr
	}
	return truetype.NewFace(ttFont, &truetype.Options{Size: 14}), nil
}
