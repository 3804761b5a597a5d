package stream

import (
	"fmt"
	"image/color"
	"io"
	"os"
	"time"

	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v2"
)

// Config is the YAML configuration of the frame player.
type Config struct {
	Mqtt struct {
		URL              string `yaml:"url"`
		ClientID         string `yaml:"clientId"`
		Username         string `yaml:"username"`
		Password         string `yaml:"password"`
		QoS              byte   `yaml:"qos"`
		PublishTimeoutMs int    `yaml:"publishTimeoutMs"`
		Topics           struct {
			Frames string `yaml:"frames"`
			Events string `yaml:"events"`
		} `yaml:"topics"`
		Encoding string `yaml:"encoding"`
	} `yaml:"mqtt"`
	Playback struct {
		Dir             string `yaml:"dir"`
		Prefix          string `yaml:"prefix"`
		FrameDurationMs int    `yaml:"frameDurationMs"`
		DurationMs      int    `yaml:"durationMs"`
		OneShot         bool   `yaml:"oneShot"`
		UpdateRateMs    int    `yaml:"updateRateMs"`
		StopTimeoutMs   int    `yaml:"stopTimeoutMs"`
		FadeInMs        int    `yaml:"fadeInMs"`
		Watch           bool   `yaml:"watch"`
	} `yaml:"playback"`
	Surface struct {
		Width       int    `yaml:"width"`
		Height      int    `yaml:"height"`
		ClearColour string `yaml:"clearColour"`
	} `yaml:"surface"`
	Cache struct {
		MaxEntries int `yaml:"maxEntries"`
	} `yaml:"cache"`
	Api struct {
		Listen string `yaml:"listen"`
	} `yaml:"api"`
}

// ReadConfig decodes a YAML config and fills in defaults.
func ReadConfig(r io.Reader) (Config, error) {
	var c Config
	if err := yaml.NewDecoder(r).Decode(&c); err != nil && err != io.EOF {
		return c, fmt.Errorf("decoding config: %w", err)
	}
	c.applyDefaults()
	return c, c.validate()
}

// LoadConfig reads the YAML config at path.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("opening config: %w", err)
	}
	defer f.Close()
	return ReadConfig(f)
}

func (c *Config) applyDefaults() {
	if c.Mqtt.ClientID == "" {
		c.Mqtt.ClientID = "frameanim"
	}
	if c.Mqtt.PublishTimeoutMs == 0 {
		c.Mqtt.PublishTimeoutMs = 100
	}
	if c.Mqtt.Encoding == "" {
		c.Mqtt.Encoding = EncodingJSON
	}
	if c.Playback.Dir == "" {
		c.Playback.Dir = "frames"
	}
	if c.Playback.FrameDurationMs == 0 {
		c.Playback.FrameDurationMs = 100
	}
	if c.Playback.UpdateRateMs == 0 {
		c.Playback.UpdateRateMs = int(DefaultUpdateRate / time.Millisecond)
	}
	if c.Playback.StopTimeoutMs == 0 {
		c.Playback.StopTimeoutMs = int(DefaultStopTimeout / time.Millisecond)
	}
	if c.Surface.Width == 0 {
		c.Surface.Width = 64
	}
	if c.Surface.Height == 0 {
		c.Surface.Height = 64
	}
	if c.Api.Listen == "" {
		c.Api.Listen = ":3000"
	}
}

func (c *Config) validate() error {
	if c.Mqtt.QoS > 2 {
		return fmt.Errorf("mqtt qos %d out of range", c.Mqtt.QoS)
	}
	if c.Mqtt.Encoding != EncodingJSON && c.Mqtt.Encoding != EncodingMsgpack {
		return fmt.Errorf("unknown event encoding %q", c.Mqtt.Encoding)
	}
	if c.Surface.Width < 0 || c.Surface.Height < 0 {
		return fmt.Errorf("surface size %dx%d is negative", c.Surface.Width, c.Surface.Height)
	}
	if _, err := c.ClearColour(); err != nil {
		return err
	}
	return nil
}

// ClearColour is the colour used to wipe the surface, nil for transparent.
func (c *Config) ClearColour() (color.Color, error) {
	if c.Surface.ClearColour == "" {
		return nil, nil
	}
	col, err := colorful.Hex(c.Surface.ClearColour)
	if err != nil {
		return nil, fmt.Errorf("clear colour: %w", err)
	}
	return col, nil
}

// Options turns the playback settings into Controller options.
func (c *Config) Options() []Option {
	return []Option{
		WithUpdateRate(ms(c.Playback.UpdateRateMs)),
		WithStopTimeout(ms(c.Playback.StopTimeoutMs)),
		WithFadeIn(ms(c.Playback.FadeInMs)),
	}
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

// FrameDuration is how long each loaded frame is shown.
func (c *Config) FrameDuration() time.Duration {
	return ms(c.Playback.FrameDurationMs)
}

// Duration is the cycle length override, zero for the sum of the frames.
func (c *Config) Duration() time.Duration {
	return ms(c.Playback.DurationMs)
}

// PublishTimeout bounds each MQTT publish.
func (c *Config) PublishTimeout() time.Duration {
	return ms(c.Mqtt.PublishTimeoutMs)
}
