package mapsvc

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	"image/png"
	"os"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Dimensões e posição da marca d'água (canto inferior direito).
const (
	WatermarkWidth  = 400
	WatermarkHeight = 35
	marginRight     = 5
	marginBottom    = 3
)

// maxScale é quanto a imagem do provedor pode exceder o tamanho pedido antes
// de ser recusada sem decodificar.
const maxScale = 2

// ErrImageTooLarge: o cabeçalho da imagem declara dimensões acima do aceito.
var ErrImageTooLarge = errors.New("base map dimensions exceed the requested size")

// Compositor aplica a marca d'água sobre o mapa base.
type Compositor struct {
	mark image.Image
}

// NewCompositor usa mark redimensionada para 400x35.
func NewCompositor(mark image.Image) *Compositor {
	return &Compositor{mark: scale(mark, WatermarkWidth, WatermarkHeight)}
}

// LoadCompositor lê a marca d'água de path (PNG ou JPEG). Sem arquivo, usa
// uma faixa gerada com o texto brand; fromFile indica qual foi usada.
func LoadCompositor(path, brand string) (c *Compositor, fromFile bool, err error) {
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			mark, _, err := image.Decode(bytes.NewReader(data))
			if err != nil {
				return nil, false, fmt.Errorf("decode watermark %s: %w", path, err)
			}
			return NewCompositor(mark), true, nil
		case !os.IsNotExist(err):
			return nil, false, fmt.Errorf("read watermark %s: %w", path, err)
		}
	}
	return NewCompositor(Banner(brand)), false, nil
}

// Banner gera uma faixa escura semitransparente com o texto em branco.
func Banner(text string) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, WatermarkWidth, WatermarkHeight))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.NRGBA{R: 20, G: 24, B: 32, A: 170}}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{Dst: img, Src: image.White, Face: face}
	w := d.MeasureString(text).Ceil()
	x := (WatermarkWidth - w) / 2
	if x < 4 {
		x = 4
	}
	y := (WatermarkHeight + face.Metrics().Ascent.Ceil() - face.Metrics().Descent.Ceil()) / 2
	d.Dot = fixed.P(x, y)
	d.DrawString(text)
	return img
}

func scale(src image.Image, w, h int) image.Image {
	b := src.Bounds()
	if b.Dx() == w && b.Dy() == h {
		return src
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

// Compose decodifica base, desenha a marca d'água e devolve PNG.
//
// width e height são as dimensões pedidas; o cabeçalho é lido antes da
// decodificação e imagens acima de 2x esse tamanho dão ErrImageTooLarge.
// Zero desliga o limite naquele eixo.
//
// Mapa mais estreito que a marca: a marca é reduzida (mantendo a proporção)
// para caber com as margens.
func (c *Compositor) Compose(base []byte, width, height int) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(base))
	if err != nil {
		return nil, fmt.Errorf("decode base map header: %w", err)
	}
	if (width > 0 && cfg.Width > maxScale*width) || (height > 0 && cfg.Height > maxScale*height) {
		return nil, fmt.Errorf("%w: got %dx%d for %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height, width, height)
	}

	src, _, err := image.Decode(bytes.NewReader(base))
	if err != nil {
		return nil, fmt.Errorf("decode base map: %w", err)
	}

	b := src.Bounds()
	canvas := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(canvas, canvas.Bounds(), src, b.Min, draw.Src)

	mark := c.mark
	mw, mh := WatermarkWidth, WatermarkHeight
	if avail := b.Dx() - 2*marginRight; avail < mw && avail > 0 {
		mh = mh * avail / mw
		if mh < 1 {
			mh = 1
		}
		mw = avail
		mark = scale(c.mark, mw, mh)
	}

	left := b.Dx() - mw - marginRight
	top := b.Dy() - mh - marginBottom
	if left < 0 {
		left = 0
	}
	if top < 0 {
		top = 0
	}

	r := image.Rect(left, top, left+mw, top+mh)
	draw.Draw(canvas, r, mark, mark.Bounds().Min, draw.Over)

	var out bytes.Buffer
	if err := png.Encode(&out, canvas); err != nil {
		return nil, fmt.Errorf("encode map: %w", err)
	}
	return out.Bytes(), nil
}
