package surface

import (
	"image"
	"sync"

	"golang.org/x/image/draw"
)

// Memory is a surface backed by two in-memory RGBA images. Drawing happens
// on the back image; posting copies it to the front.
type Memory struct {
	mu    sync.Mutex
	back  *image.RGBA
	front *image.RGBA
	posts int
}

// NewMemory creates a memory surface of the given size.
func NewMemory(width, height int) *Memory {
	m := new(Memory)
	m.Resize(width, height)
	return m
}

// Resize reallocates both images.
func (m *Memory) Resize(width, height int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if width <= 0 || height <= 0 {
		m.back, m.front = nil, nil
		return
	}
	if m.back != nil && m.back.Bounds().Dx() == width && m.back.Bounds().Dy() == height {
		return
	}
	m.back = image.NewRGBA(image.Rect(0, 0, width, height))
	m.front = image.NewRGBA(image.Rect(0, 0, width, height))
}

// Lock returns the back image.
func (m *Memory) Lock() (draw.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.back == nil {
		return nil, ErrInvalid
	}
	return m.back, nil
}

// UnlockAndPost copies canvas to the front image.
func (m *Memory) UnlockAndPost(canvas draw.Image) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.front == nil {
		return
	}
	draw.Draw(m.front, m.front.Bounds(), canvas, canvas.Bounds().Min, draw.Src)
	m.posts++
}

// Posts is the number of presented canvases.
func (m *Memory) Posts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.posts
}

// Snapshot returns a copy of the front image.
func (m *Memory) Snapshot() *image.RGBA {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.front == nil {
		return nil
	}
	out := image.NewRGBA(m.front.Bounds())
	copy(out.Pix, m.front.Pix)
	return out
}
