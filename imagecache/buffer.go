package imagecache

import (
	"image"
	"sync/atomic"
)

// BytesPerPixel is the storage cost of one RGBA pixel.
const BytesPerPixel = 4

// A Buffer is reusable pixel storage. The cache never owns a Buffer; whoever
// decoded into it does.
type Buffer struct {
	pix      []byte
	mutable  bool
	recycled atomic.Bool
	inUse    atomic.Bool

	// Owned by whoever holds the buffer; read by the cache only while pooled.
	key  string
	view *image.RGBA
}

// NewBuffer allocates a mutable buffer of size bytes.
func NewBuffer(size int) *Buffer {
	b := new(Buffer)
	b.pix = make([]byte, size)
	b.mutable = true
	return b
}

// NewImmutableBuffer wraps pix in a buffer that the cache will never reuse.
func NewImmutableBuffer(pix []byte) *Buffer {
	b := new(Buffer)
	b.pix = pix
	return b
}

// Cap is the byte capacity of the buffer.
func (b *Buffer) Cap() int {
	return cap(b.pix)
}

// Mutable reports whether the buffer can be decoded into.
func (b *Buffer) Mutable() bool {
	return b.mutable
}

// Recycled reports whether Recycle has been called.
func (b *Buffer) Recycled() bool {
	return b.recycled.Load()
}

// Recycle marks the buffer dead. A recycled buffer is never handed out again.
func (b *Buffer) Recycle() {
	b.recycled.Store(true)
}

// Bytes returns the first n bytes of the storage.
func (b *Buffer) Bytes(n int) []byte {
	return b.pix[:n]
}

// RGBA returns a w x h image backed by the buffer's storage. It panics if the
// buffer is too small, callers are expected to size it with Acquire. Asking
// for the same size again returns the same image.
func (b *Buffer) RGBA(w, h int) *image.RGBA {
	if b.view != nil && b.view.Rect.Dx() == w && b.view.Rect.Dy() == h {
		return b.view
	}
	n := w * h * BytesPerPixel
	b.view = &image.RGBA{
		Pix:    b.pix[:n:n],
		Stride: w * BytesPerPixel,
		Rect:   image.Rect(0, 0, w, h),
	}
	return b.view
}

// SetKey records what the buffer's pixels currently hold, so that Lookup can
// hand them back without decoding again. An empty key means nothing.
func (b *Buffer) SetKey(key string) {
	b.key = key
}

// Key is the content set with SetKey.
func (b *Buffer) Key() string {
	return b.key
}

// View is the image last returned by RGBA, nil if there is none.
func (b *Buffer) View() *image.RGBA {
	return b.view
}

func (b *Buffer) reusable() bool {
	return b.mutable && !b.recycled.Load() && !b.inUse.Load()
}
