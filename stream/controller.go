package stream

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/matt-g-everett/frameanim/frame"
	"github.com/matt-g-everett/frameanim/imagecache"
	"github.com/matt-g-everett/frameanim/surface"
	"github.com/matt-g-everett/frameanim/util"
	"golang.org/x/image/draw"
)

const fadeLutLength = 64

// An OnFrameListener hears about playback starting and ending.
type OnFrameListener interface {
	OnFrameStart()
	OnFrameEnd()
}

// ListenerFuncs adapts a pair of functions to an OnFrameListener. Either may
// be nil.
type ListenerFuncs struct {
	Start func()
	End   func()
}

// OnFrameStart calls f.Start.
func (f ListenerFuncs) OnFrameStart() {
	if f.Start != nil {
		f.Start()
	}
}

// OnFrameEnd calls f.End.
func (f ListenerFuncs) OnFrameEnd() {
	if f.End != nil {
		f.End()
	}
}

// Listeners fans callbacks out to several listeners in order.
type Listeners []OnFrameListener

// OnFrameStart notifies every listener.
func (ls Listeners) OnFrameStart() {
	for _, l := range ls {
		l.OnFrameStart()
	}
}

// OnFrameEnd notifies every listener.
func (ls Listeners) OnFrameEnd() {
	for _, l := range ls {
		l.OnFrameEnd()
	}
}

type listenerRef struct {
	l OnFrameListener
}

// Status is a snapshot of a Controller.
type Status struct {
	Running   bool             `json:"running"`
	Animating bool             `json:"animating"`
	OneShot   bool             `json:"oneShot"`
	Frames    int              `json:"frames"`
	Index     int              `json:"index"`
	Repeats   int              `json:"repeats"`
	Duration  time.Duration    `json:"duration"`
	Ticks     uint64           `json:"ticks"`
	Failures  uint64           `json:"failures"`
	Cache     imagecache.Stats `json:"cache"`
}

// Controller plays a frame sequence onto a guarded surface. Start, Stop and
// the setters are meant to be called from the owning goroutine; listener
// callbacks are delivered on the Controller's Looper.
type Controller struct {
	guard    *surface.Guard
	decoder  *frame.Decoder
	clock    Clock
	logger   *slog.Logger
	looper   *Looper
	ownLoop  bool
	streamer *Streamer

	updateRate  time.Duration
	stopTimeout time.Duration
	fadeIn      time.Duration
	fadeLut     []float64

	mu       sync.Mutex
	seq      *frame.Sequence
	oneShot  bool
	duration time.Duration
	gate     *surface.Gate

	playback atomic.Pointer[Playback]
	began    atomic.Int64
	listener atomic.Pointer[listenerRef]
}

// An Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithClock replaces the wall clock.
func WithClock(clock Clock) Option {
	return func(c *Controller) { c.clock = clock }
}

// WithLooper delivers callbacks on an existing Looper. The Controller will
// not close it.
func WithLooper(l *Looper) Option {
	return func(c *Controller) { c.looper = l }
}

// WithUpdateRate sets how often the render loop wakes up.
func WithUpdateRate(d time.Duration) Option {
	return func(c *Controller) { c.updateRate = d }
}

// WithStopTimeout sets how long Stop waits for the render loop.
func WithStopTimeout(d time.Duration) Option {
	return func(c *Controller) { c.stopTimeout = d }
}

// WithFadeIn fades the animation in over d at the start of each session.
func WithFadeIn(d time.Duration) Option {
	return func(c *Controller) { c.fadeIn = d }
}

// NewController creates a stopped Controller drawing to guard and decoding
// frames with decoder.
func NewController(guard *surface.Guard, decoder *frame.Decoder, opts ...Option) *Controller {
	c := new(Controller)
	c.guard = guard
	c.decoder = decoder
	c.seq = frame.NewSequence()
	for _, opt := range opts {
		opt(c)
	}
	if c.clock == nil {
		c.clock = SystemClock
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.looper == nil {
		c.looper = NewLooper(c.logger)
		c.ownLoop = true
	}
	if c.fadeIn > 0 {
		c.fadeLut = util.GenerateLut(fadeLutLength)
	}
	c.streamer = NewStreamer(c.updateRate, c.stopTimeout, c.clock, c.logger)
	return c
}

// SetOneShot chooses between playing once and looping. Ignored while running.
func (c *Controller) SetOneShot(oneShot bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streamer.Running() {
		c.oneShot = oneShot
	}
}

// SetDuration overrides the length of one cycle; zero means the sum of the
// frame durations. Ignored while running.
func (c *Controller) SetDuration(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.streamer.Running() {
		c.duration = d
	}
}

// AddFrames replaces the sequence. Ignored while running.
func (c *Controller) AddFrames(seq *frame.Sequence) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamer.Running() {
		c.logger.Debug("frames not replaced while running")
		return
	}
	if seq == nil {
		seq = frame.NewSequence()
	}
	c.seq = seq
}

// SetOnFrameListener registers l, or detaches the current listener when l is
// nil. Callbacks already queued go to the listener that was registered when
// they were queued.
func (c *Controller) SetOnFrameListener(l OnFrameListener) {
	if l == nil {
		c.listener.Store(nil)
		return
	}
	c.listener.Store(&listenerRef{l: l})
}

// Start begins playback. It does nothing if already running. An empty
// sequence, or one that lasts no time, ends straight away.
func (c *Controller) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streamer.Running() {
		return
	}

	total := c.seq.TotalDuration(c.duration)
	if c.seq.Len() == 0 || total <= 0 {
		c.logger.Info("nothing to play", "frames", c.seq.Len(), "duration", total)
		c.post(FrameEnd)
		return
	}

	c.seq.Freeze()
	p := NewPlayback(c.seq, c.oneShot, total, c.post)
	c.playback.Store(p)
	c.began.Store(c.clock.Now().UnixNano())
	gate := surface.NewGate()
	c.gate = gate
	c.streamer.Start(func(ctx context.Context) error {
		return c.step(ctx, p, gate)
	})
	c.logger.Info("playback started", "frames", c.seq.Len(), "duration", total, "oneShot", c.oneShot)
}

// Stop ends playback. Listeners hear FrameEnd if an animation was in
// progress. Once Stop returns nothing more reaches the surface, even from a
// draw that was still running. It does nothing if already stopped.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.playback.Swap(nil)
	if p != nil && p.Finish() {
		c.post(FrameEnd)
	}
	if c.gate != nil {
		c.gate.Close()
		c.gate = nil
	}
	if !c.streamer.Running() {
		return
	}
	exited := c.streamer.Stop()
	c.seq.Thaw()
	c.logger.Info("playback stopped", "exited", exited)
}

// Close stops playback and, if the Controller created its own Looper,
// delivers outstanding callbacks and shuts it down.
func (c *Controller) Close() {
	c.Stop()
	if c.ownLoop {
		c.looper.Close()
	}
}

// IsAnimating reports whether a cycle is in progress.
func (c *Controller) IsAnimating() bool {
	p := c.playback.Load()
	return p != nil && p.Animating()
}

// IsRunning reports whether the render loop is running.
func (c *Controller) IsRunning() bool {
	return c.streamer.Running()
}

// Looper is where listener callbacks run.
func (c *Controller) Looper() *Looper {
	return c.looper
}

// Cache is the decoder's buffer cache, nil if it has none.
func (c *Controller) Cache() *imagecache.Cache {
	if c.decoder == nil {
		return nil
	}
	return c.decoder.Cache()
}

// Status returns a snapshot of the playback.
func (c *Controller) Status() Status {
	c.mu.Lock()
	st := Status{
		Running:  c.streamer.Running(),
		OneShot:  c.oneShot,
		Frames:   c.seq.Len(),
		Duration: c.seq.TotalDuration(c.duration),
		Index:    -1,
		Ticks:    c.streamer.Ticks(),
		Failures: c.streamer.Failures(),
	}
	c.mu.Unlock()

	if p := c.playback.Load(); p != nil {
		st.Animating = p.Animating()
		st.Index = p.Index()
		st.Repeats = p.Repeats()
	}
	if cache := c.Cache(); cache != nil {
		st.Cache = cache.Stats()
	}
	return st
}

func (c *Controller) post(ev EventType) {
	ref := c.listener.Load()
	if ref == nil {
		return
	}
	l := ref.l
	c.looper.Post(func() {
		switch ev {
		case FrameStart:
			l.OnFrameStart()
		case FrameEnd:
			l.OnFrameEnd()
		}
	})
}

// step draws the frame that is due and then holds it for the rest of its
// duration. Posts go through gate so that a draw outliving Stop is dropped.
func (c *Controller) step(ctx context.Context, a Animation, gate *surface.Gate) error {
	if ctx.Err() != nil {
		return nil
	}

	var shown frame.Descriptor
	var drawn bool
	cost, err := c.guard.DrawWith(gate, c.clock.Now, func(canvas draw.Image) error {
		if ctx.Err() != nil {
			return nil
		}
		now := c.clock.Now()
		idx, desc := a.Next(now)
		if idx < 0 {
			return nil
		}
		shown, drawn = desc, true

		frame.Clear(canvas, nil)
		img, err := c.decoder.Decode(desc.Locator)
		if err != nil {
			c.logger.Warn("frame skipped", "index", idx, "locator", desc.Locator, "error", err)
			return nil
		}
		defer img.Release()

		t := desc.Transform
		t.Alpha *= c.fade(now)
		frame.Render(canvas, img, t)
		return nil
	})
	if err != nil {
		return err
	}
	if drawn && shown.Duration > cost {
		sleep(ctx, c.clock, shown.Duration-cost)
	}
	return nil
}

func (c *Controller) fade(now time.Time) float64 {
	if c.fadeIn <= 0 {
		return 1
	}
	since := now.Sub(time.Unix(0, c.began.Load()))
	return util.Sample(c.fadeLut, float64(since)/float64(c.fadeIn))
}
