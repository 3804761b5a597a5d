package frame

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"

	"github.com/matt-g-everett/frameanim/imagecache"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// A Loader fetches the encoded bytes of a frame image.
type Loader interface {
	Load(locator string) ([]byte, error)
}

// LoaderFunc adapts a function to a Loader.
type LoaderFunc func(locator string) ([]byte, error)

// Load calls f.
func (f LoaderFunc) Load(locator string) ([]byte, error) {
	return f(locator)
}

// FSLoader loads frames from a file system.
type FSLoader struct {
	FS fs.FS
}

// Load reads locator from the file system.
func (l FSLoader) Load(locator string) ([]byte, error) {
	return fs.ReadFile(l.FS, locator)
}

// An Image is a decoded frame held in a pooled buffer.
type Image struct {
	*image.RGBA
	buf   *imagecache.Buffer
	cache *imagecache.Cache
}

// Release hands the pixel buffer back to the cache. The image must not be
// used afterwards.
func (img *Image) Release() {
	if img == nil || img.buf == nil {
		return
	}
	if img.cache != nil {
		img.cache.Release(img.buf)
	}
	img.buf = nil
	img.RGBA = nil
}

// Decoder turns locators into images, reusing buffers from a cache.
type Decoder struct {
	loader Loader
	cache  *imagecache.Cache
}

// NewDecoder creates a Decoder. cache may be nil, in which case every decode
// allocates.
func NewDecoder(loader Loader, cache *imagecache.Cache) *Decoder {
	d := new(Decoder)
	d.loader = loader
	d.cache = cache
	return d
}

// Cache returns the buffer cache used by the decoder.
func (d *Decoder) Cache() *imagecache.Cache {
	return d.cache
}

// Decode loads and decodes locator into a pooled buffer. If the cache still
// holds the pixels of an earlier decode of locator they are returned as they
// are, without loading or decoding anything.
//
// Go's image decoders always allocate their own output, so a miss costs that
// allocation and a copy into the pooled buffer. Pooling pays off through the
// hits, which allocate nothing the size of a frame.
func (d *Decoder) Decode(locator string) (*Image, error) {
	if d.cache != nil {
		if buf := d.cache.Lookup(locator); buf != nil {
			if view := buf.View(); view != nil {
				return &Image{RGBA: view, buf: buf, cache: d.cache}, nil
			}
			d.cache.Release(buf)
		}
	}

	data, err := d.loader.Load(locator)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", locator, err)
	}

	// Read the bounds first so that a buffer of the right size can be chosen.
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding bounds of %s: %w", locator, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("decoding %s: empty image", locator)
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", locator, err)
	}

	size := cfg.Width * cfg.Height * imagecache.BytesPerPixel
	var buf *imagecache.Buffer
	if d.cache != nil {
		buf = d.cache.Allocate(size)
	} else {
		buf = imagecache.NewBuffer(size)
	}

	dst := buf.RGBA(cfg.Width, cfg.Height)
	draw.Draw(dst, dst.Bounds(), src, src.Bounds().Min, draw.Src)
	buf.SetKey(locator)
	return &Image{RGBA: dst, buf: buf, cache: d.cache}, nil
}
