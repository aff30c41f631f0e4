package assets

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"mime"
	"strings"

	"github.com/oliamb/cutter"

	"github.com/hazyhaar/scrollback/exporter/internal/browser"
	"github.com/hazyhaar/scrollback/exporter/record"
)

// Image is an acquired asset.
type Image struct {
	Data  []byte
	Ext   string // without dot
	State record.AssetState
}

// Strategy acquires the bytes of one asset reference.
type Strategy interface {
	Name() string
	Acquire(ctx context.Context, scope browser.Scope, ref record.AssetRef) (Image, error)
}

// Download fetches the source URL from inside the page, with the page's
// credentials, and returns the decoded body.
type Download struct{}

func (Download) Name() string { return "download" }

type fetchResult struct {
	DataURL string `json:"dataUrl"`
	Error   string `json:"error"`
}

func (Download) Acquire(ctx context.Context, scope browser.Scope, ref record.AssetRef) (Image, error) {
	if ref.Source == "" {
		return Image{}, errors.New("no source url")
	}
	if strings.HasPrefix(ref.Source, "data:") {
		return decodeDataURL(ref.Source)
	}
	res, err := scope.Eval(ctx, FetchJS, ref.Source)
	if err != nil {
		return Image{}, err
	}
	var r fetchResult
	if err := browser.Decode(res, &r); err != nil {
		return Image{}, err
	}
	if r.Error != "" {
		return Image{}, errors.New(r.Error)
	}
	return decodeDataURL(r.DataURL)
}

func decodeDataURL(u string) (Image, error) {
	header, payload, ok := strings.Cut(u, ",")
	if !ok || !strings.HasPrefix(header, "data:") {
		return Image{}, errors.New("malformed data url")
	}
	meta := strings.TrimPrefix(header, "data:")
	contentType, _, _ := strings.Cut(meta, ";")
	if !strings.HasPrefix(contentType, "image/") {
		return Image{}, fmt.Errorf("not an image: %q", contentType)
	}
	var data []byte
	if strings.HasSuffix(meta, ";base64") {
		b, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return Image{}, fmt.Errorf("decode base64: %w", err)
		}
		data = b
	} else {
		data = []byte(payload)
	}
	if len(data) == 0 {
		return Image{}, errors.New("empty body")
	}
	return Image{Data: data, Ext: extFor(contentType), State: record.StateDownloaded}, nil
}

func extFor(contentType string) string {
	switch contentType {
	case "image/jpeg", "image/pjpeg":
		return "jpg"
	case "image/svg+xml":
		return "svg"
	case "image/x-icon", "image/vnd.microsoft.icon":
		return "ico"
	}
	if exts, _ := mime.ExtensionsByType(contentType); len(exts) > 0 {
		return strings.TrimPrefix(exts[0], ".")
	}
	if _, sub, ok := strings.Cut(contentType, "/"); ok && sub != "" {
		return sub
	}
	return "bin"
}

// Screenshot captures the stamped node itself.
type Screenshot struct{}

func (Screenshot) Name() string { return "screenshot" }

func (Screenshot) Acquire(ctx context.Context, scope browser.Scope, ref record.AssetRef) (Image, error) {
	data, err := scope.ElementScreenshot(ctx, ref.Locator)
	if err != nil {
		return Image{}, err
	}
	if len(data) == 0 {
		return Image{}, errors.New("empty screenshot")
	}
	return Image{Data: data, Ext: "png", State: record.StateScreenshotted}, nil
}

// CroppedCapture screenshots the viewport and crops it to the node's
// rendered box. Sprite-sheet emoji render one frame of a larger image
// through a clipping container: only the rendered box is the real glyph.
type CroppedCapture struct{}

func (CroppedCapture) Name() string { return "cropped_capture" }

func (CroppedCapture) Acquire(ctx context.Context, scope browser.Scope, ref record.AssetRef) (Image, error) {
	box, err := scope.VisibleBox(ctx, ref.Locator)
	if err != nil {
		return Image{}, err
	}
	if box.Empty() {
		return Image{}, errors.New("node not rendered")
	}
	shot, err := scope.Screenshot(ctx)
	if err != nil {
		return Image{}, err
	}
	data, err := Crop(shot, box)
	if err != nil {
		return Image{}, err
	}
	return Image{Data: data, Ext: "png", State: record.StateScreenshotted}, nil
}

// Crop cuts box out of a PNG screenshot and re-encodes it as PNG.
func Crop(shot []byte, box browser.Box) ([]byte, error) {
	img, err := png.Decode(bytes.NewReader(shot))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	r := image.Rect(int(box.X), int(box.Y), int(box.X+box.Width+0.5), int(box.Y+box.Height+0.5)).
		Intersect(img.Bounds())
	if r.Empty() {
		return nil, errors.New("box outside viewport")
	}
	cropped, err := cutter.Crop(img, cutter.Config{
		Width:   r.Dx(),
		Height:  r.Dy(),
		Anchor:  r.Min,
		Mode:    cutter.TopLeft,
		Options: cutter.Copy,
	})
	if err != nil {
		return nil, fmt.Errorf("crop: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, cropped); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}
	return buf.Bytes(), nil
}

// FetchJS fetches a URL with the page's cookies and returns it as a data
// URL. Args: url.
const FetchJS = `async (url) => {
	try {
		const res = await fetch(url, {credentials: 'include'});
		if (!res.ok) return {error: 'HTTP ' + res.status + ' ' + res.statusText};
		const ct = res.headers.get('content-type') || '';
		if (!ct.startsWith('image/')) return {error: 'not an image: ' + ct};
		const blob = await res.blob();
		return await new Promise((resolve) => {
			const r = new FileReader();
			r.onloadend = () => resolve({dataUrl: r.result});
			r.onerror = () => resolve({error: 'read failed'});
			r.readAsDataURL(blob);
		});
	} catch (e) {
		return {error: 'fetch failed: ' + e.message};
	}
}`
