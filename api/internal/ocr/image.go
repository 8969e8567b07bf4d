package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"glm-ocr/api/internal/util"
)

const (
	DefaultFetchTimeout  = 30 * time.Second
	DefaultMaxImageBytes = 64 << 20
)

// Image is a decoded input normalized to opaque RGB and re-encoded as PNG.
type Image struct {
	Width        int
	Height       int
	SourceFormat string
	MIME         string
	Data         []byte
}

func (im *Image) Base64() string { return base64.StdEncoding.EncodeToString(im.Data) }

func (im *Image) DataURL() string { return util.MakeDataURL(im.MIME, im.Base64()) }

type ImageResolver struct {
	httpc        *http.Client
	fetchTimeout time.Duration
	maxBytes     int64
}

func NewImageResolver(fetchTimeout time.Duration, maxBytes int64) *ImageResolver {
	if fetchTimeout <= 0 {
		fetchTimeout = DefaultFetchTimeout
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConns:        16,
	}
	return &ImageResolver{
		httpc:        &http.Client{Timeout: fetchTimeout, Transport: tr},
		fetchTimeout: fetchTimeout,
		maxBytes:     maxBytes,
	}
}

// WithHTTPClient overrides the fetch client (tests, proxies).
func (r *ImageResolver) WithHTTPClient(c *http.Client) *ImageResolver {
	if c != nil {
		r.httpc = c
	}
	return r
}

// Resolve turns the request's image source into a normalized image.
// image_b64 wins over image_url when both are set.
func (r *ImageResolver) Resolve(ctx context.Context, req Request) (*Image, error) {
	if req.b64Err != nil {
		return nil, req.b64Err
	}
	if req.ImageB64 != "" {
		data, err := decodeBase64(req.ImageB64)
		if err != nil {
			return nil, err
		}
		return decodeImage(data)
	}

	if req.urlErr != nil {
		return nil, req.urlErr
	}
	url := req.ImageURL
	if url == "" {
		return nil, ErrImageRequired
	}

	if util.IsDataURL(url) {
		_, payload, ok := util.SplitDataURL(url)
		if !ok {
			return nil, wrapf(ErrBadBase64, "malformed data URI: missing ','")
		}
		data, err := decodeBase64(payload)
		if err != nil {
			return nil, err
		}
		return decodeImage(data)
	}

	data, err := r.fetch(ctx, url)
	if err != nil {
		return nil, err
	}
	return decodeImage(data)
}

func (r *ImageResolver) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, wrapf(ErrFetch, "bad image url %q: %v", url, err)
	}
	req.Header.Set("User-Agent", "glm-ocr-worker/1.0")

	resp, err := r.httpc.Do(req)
	if err != nil {
		return nil, wrapf(ErrFetch, "fetch %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, wrapf(ErrFetch, "%s for url: %s", resp.Status, url)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, r.maxBytes+1))
	if err != nil {
		return nil, wrapf(ErrFetch, "read %s: %v", url, err)
	}
	if int64(len(data)) > r.maxBytes {
		return nil, wrapf(ErrFetch, "image at %s exceeds %d bytes", url, r.maxBytes)
	}
	return data, nil
}

func decodeBase64(s string) ([]byte, error) {
	data, err := util.DecodeBase64(s)
	if err != nil {
		return nil, wrapf(ErrBadBase64, "invalid base64: %v", err)
	}
	return data, nil
}

// decodeImage decodes any registered format and drops the alpha channel.
func decodeImage(data []byte) (*Image, error) {
	if len(data) == 0 {
		return nil, wrapf(ErrFormat, "cannot identify image file: empty data")
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, wrapf(ErrFormat, "cannot identify image file: %v", err)
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, wrapf(ErrFormat, "cannot identify image file: zero-size %s image", format)
	}

	rgb := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			// alpha is discarded, the stored colour is kept
			c := color.NRGBAModel.Convert(src.At(x, y)).(color.NRGBA)
			rgb.SetRGBA(x-b.Min.X, y-b.Min.Y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}

	// opaque RGBA is written by image/png as 8-bit truecolor
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, rgb); err != nil {
		return nil, wrapf(ErrFormat, "re-encode %s image: %v", format, err)
	}

	return &Image{
		Width:        b.Dx(),
		Height:       b.Dy(),
		SourceFormat: strings.ToLower(format),
		MIME:         "image/png",
		Data:         buf.Bytes(),
	}, nil
}

// DescribeImage is a short log-safe summary.
func DescribeImage(im *Image) string {
	if im == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s %dx%d", im.SourceFormat, im.Width, im.Height)
}
