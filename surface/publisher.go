package surface

import (
	"encoding/binary"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/lucasb-eyer/go-colorful"
	"golang.org/x/image/draw"
)

// MarshalCanvas converts a canvas into binary data: little-endian uint16
// width and height followed by one RGB triple per pixel, row by row.
// Transparent pixels are sent as black.
func MarshalCanvas(img image.Image) ([]byte, error) {
	b := img.Bounds()
	if b.Dx() > 0xffff || b.Dy() > 0xffff {
		return nil, fmt.Errorf("canvas %dx%d too large", b.Dx(), b.Dy())
	}
	data := make([]byte, 4, 4+b.Dx()*b.Dy()*3)
	binary.LittleEndian.PutUint16(data, uint16(b.Dx()))
	binary.LittleEndian.PutUint16(data[2:], uint16(b.Dy()))
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c, ok := colorful.MakeColor(img.At(x, y))
			if !ok {
				data = append(data, 0, 0, 0)
				continue
			}
			r, g, bl := c.Clamped().RGB255()
			data = append(data, r, g, bl)
		}
	}
	return data, nil
}

// Publisher is a surface that streams every presented canvas over MQTT.
type Publisher struct {
	client  mqtt.Client
	topic   string
	qos     byte
	timeout time.Duration
	logger  *slog.Logger

	mu     sync.Mutex
	canvas *image.RGBA

	published atomic.Uint64
	failed    atomic.Uint64
}

// NewPublisher creates a Publisher that sends frames to topic.
func NewPublisher(client mqtt.Client, topic string, qos byte, timeout time.Duration, logger *slog.Logger) *Publisher {
	p := new(Publisher)
	p.client = client
	p.topic = topic
	p.qos = qos
	p.timeout = timeout
	if logger == nil {
		logger = slog.Default()
	}
	p.logger = logger
	return p
}

// Resize reallocates the canvas.
func (p *Publisher) Resize(width, height int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if width <= 0 || height <= 0 {
		p.canvas = nil
		return
	}
	p.canvas = image.NewRGBA(image.Rect(0, 0, width, height))
}

// Lock returns the canvas.
func (p *Publisher) Lock() (draw.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.canvas == nil {
		return nil, ErrInvalid
	}
	return p.canvas, nil
}

// UnlockAndPost publishes the canvas. Publishing failures are logged; a
// dropped frame is not worth stopping the animation for.
func (p *Publisher) UnlockAndPost(canvas draw.Image) {
	data, err := MarshalCanvas(canvas)
	if err != nil {
		p.failed.Add(1)
		p.logger.Warn("frame encode failed", "error", err)
		return
	}

	token := p.client.Publish(p.topic, p.qos, false, data)
	if p.timeout <= 0 {
		token.Wait()
	} else if !token.WaitTimeout(p.timeout) {
		p.failed.Add(1)
		p.logger.Warn("frame publish timed out", "topic", p.topic, "timeout", p.timeout)
		return
	}
	if err := token.Error(); err != nil {
		p.failed.Add(1)
		p.logger.Warn("frame publish failed", "topic", p.topic, "error", err)
		return
	}
	p.published.Add(1)
}

// Published is the number of frames sent successfully.
func (p *Publisher) Published() uint64 {
	return p.published.Load()
}

// Failed is the number of frames that could not be sent.
func (p *Publisher) Failed() uint64 {
	return p.failed.Load()
}
