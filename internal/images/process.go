package images

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/gif"
	_ "image/jpeg"

	"github.com/disintegration/imaging"
	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"

	_ "golang.org/x/image/webp"
)

const jpegQuality = 85

// process decodes, resizes and re-encodes an image payload. SVG sources
// are rasterized before resizing. PNG stays PNG so alpha survives; every
// other format comes out as JPEG.
func process(data []byte, opts Options) (out []byte, ext, contentType string, err error) {
	var src image.Image
	var format string

	if isSVG(data) {
		src, err = rasterizeSVG(data, opts.MaxWidth, opts.MaxHeight)
		if err != nil {
			return nil, "", "", fmt.Errorf("rasterize svg: %w", err)
		}
		format = "svg"
	} else {
		src, format, err = image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, "", "", fmt.Errorf("decode image: %w", err)
		}
	}

	resized := resize(src, opts)

	var buf bytes.Buffer
	if format == "png" {
		if err := png.Encode(&buf, resized); err != nil {
			return nil, "", "", fmt.Errorf("encode png: %w", err)
		}
		return buf.Bytes(), "png", "image/png", nil
	}

	if err := imaging.Encode(&buf, resized, imaging.JPEG, imaging.JPEGQuality(jpegQuality)); err != nil {
		return nil, "", "", fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), "jpg", "image/jpeg", nil
}

func resize(src image.Image, opts Options) image.Image {
	if opts.MaxWidth <= 0 || opts.MaxHeight <= 0 {
		return src
	}

	if opts.Fit == FitCover {
		return imaging.Fill(src, opts.MaxWidth, opts.MaxHeight, imaging.Center, imaging.Lanczos)
	}

	// imaging.Fit keeps aspect ratio and does not upscale a smaller source.
	return imaging.Fit(src, opts.MaxWidth, opts.MaxHeight, imaging.Lanczos)
}

func isSVG(data []byte) bool {
	head := bytes.TrimLeft(data, " \t\r\n\xef\xbb\xbf")
	if len(head) == 0 || head[0] != '<' {
		return false
	}

	probe := head
	if len(probe) > 1024 {
		probe = probe[:1024]
	}
	return bytes.Contains(probe, []byte("<svg"))
}

func rasterizeSVG(data []byte, maxW, maxH int) (image.Image, error) {
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	w := int(icon.ViewBox.W)
	h := int(icon.ViewBox.H)
	if w <= 0 || h <= 0 {
		w, h = maxW, maxH
	}
	if w <= 0 || h <= 0 {
		w, h = 512, 512
	}

	icon.SetTarget(0, 0, float64(w), float64(h))

	rgba := image.NewRGBA(image.Rect(0, 0, w, h))
	scanner := rasterx.NewScannerGV(w, h, rgba, rgba.Bounds())
	icon.Draw(rasterx.NewDasher(w, h, scanner), 1.0)

	return rgba, nil
}
