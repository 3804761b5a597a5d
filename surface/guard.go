// Package surface guards access to a drawing surface whose lifetime is
// controlled by someone else, usually a windowing system calling back on
// its own thread.
package surface

import (
	"errors"
	"fmt"
	"image/color"
	"math"
	"sync/atomic"
	"time"

	"github.com/matt-g-everett/frameanim/frame"
	"golang.org/x/image/draw"
)

// ErrInvalid is returned when the surface is not there to draw on.
var ErrInvalid = errors.New("surface: not valid")

// A Surface hands out a canvas to draw on and presents it afterwards.
type Surface interface {
	Lock() (draw.Image, error)
	UnlockAndPost(canvas draw.Image)
}

// A Resizer is a Surface that wants to know about size changes.
type Resizer interface {
	Resize(width, height int)
}

// Guard tracks the created, resized and destroyed events of a Surface and
// only draws when the surface can take it.
type Guard struct {
	surface     Surface
	clearColour color.Color

	created atomic.Bool
	visible atomic.Bool
	cleared atomic.Bool
	width   atomic.Int32
	height  atomic.Int32
}

// NewGuard creates a guard for s. clearColour may be nil for transparent.
func NewGuard(s Surface, clearColour color.Color) *Guard {
	g := new(Guard)
	g.surface = s
	g.clearColour = clearColour
	g.visible.Store(true)
	return g
}

// Created is called when the surface becomes available.
func (g *Guard) Created() {
	g.created.Store(true)
	g.Clear()
}

// Resized is called when the surface changes size. Negative sizes count as
// zero and sizes beyond int32 are capped.
func (g *Guard) Resized(width, height int) {
	width, height = clampSize(width), clampSize(height)
	if r, ok := g.surface.(Resizer); ok {
		r.Resize(width, height)
	}
	g.width.Store(int32(width))
	g.height.Store(int32(height))
	g.created.Store(true)
}

func clampSize(n int) int {
	if n < 0 {
		return 0
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return n
}

// Destroyed is called when the surface goes away. Draws in flight will not
// release the canvas.
func (g *Guard) Destroyed() {
	g.created.Store(false)
}

// SetVisible records whether the view showing the surface is on screen.
func (g *Guard) SetVisible(visible bool) {
	g.visible.Store(visible)
}

// Valid reports whether the surface currently exists.
func (g *Guard) Valid() bool {
	return g.created.Load()
}

// Size is the last size reported by Resized.
func (g *Guard) Size() (int, int) {
	return int(g.width.Load()), int(g.height.Load())
}

// WithLockedSurface locks the canvas, runs fn and posts the result. If fn
// fails or panics the canvas is cleared before it is released and the
// failure is passed on. The canvas is only released if the surface is still
// valid at that point.
func (g *Guard) WithLockedSurface(fn func(canvas draw.Image) error) error {
	return g.withLockedSurface(nil, fn)
}

func (g *Guard) withLockedSurface(gate *Gate, fn func(canvas draw.Image) error) error {
	if !g.created.Load() {
		return ErrInvalid
	}
	canvas, err := g.surface.Lock()
	if err != nil {
		return fmt.Errorf("locking surface: %w", err)
	}
	if canvas == nil {
		return ErrInvalid
	}

	ok := false
	defer func() {
		if !ok {
			frame.Clear(canvas, g.clearColour)
		}
		g.post(gate, canvas)
	}()

	if err := fn(canvas); err != nil {
		return err
	}
	ok = true
	return nil
}

// post releases canvas unless the surface has gone or gate is closed.
func (g *Guard) post(gate *Gate, canvas draw.Image) {
	if !g.created.Load() || !gate.enter() {
		return
	}
	defer gate.leave()
	g.surface.UnlockAndPost(canvas)
}

// Draw runs fn on the locked canvas and returns how long that took. Nothing
// is drawn while the surface is missing or has no area. While the view is
// hidden the surface is cleared once instead.
func (g *Guard) Draw(fn func(canvas draw.Image) error) (time.Duration, error) {
	return g.DrawWith(nil, time.Now, fn)
}

// DrawWith is Draw with the cost measured by now, and with nothing posted
// once gate is closed. A nil gate never closes.
func (g *Guard) DrawWith(gate *Gate, now func() time.Time, fn func(canvas draw.Image) error) (time.Duration, error) {
	if !g.created.Load() {
		return 0, nil
	}
	if w, h := g.Size(); w == 0 || h == 0 {
		return 0, nil
	}
	if !g.visible.Load() {
		if g.cleared.CompareAndSwap(false, true) {
			g.clear(gate)
		}
		return 0, nil
	}
	g.cleared.Store(false)

	start := now()
	err := g.withLockedSurface(gate, fn)
	return now().Sub(start), err
}

// Clear wipes the surface if it exists.
func (g *Guard) Clear() {
	g.clear(nil)
}

func (g *Guard) clear(gate *Gate) {
	_ = g.withLockedSurface(gate, func(canvas draw.Image) error {
		frame.Clear(canvas, g.clearColour)
		return nil
	})
}
