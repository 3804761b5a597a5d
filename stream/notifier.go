package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
)

// Event payload encodings.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Event is the payload published for each playback transition.
type Event struct {
	Type    string    `json:"type" msgpack:"type"`
	Session string    `json:"session" msgpack:"session"`
	Time    time.Time `json:"time" msgpack:"time"`
}

// Notifier is an OnFrameListener that publishes playback events over MQTT.
// Each FrameStart opens a new session id that the matching FrameEnd reuses.
type Notifier struct {
	client   mqtt.Client
	topic    string
	encoding string
	timeout  time.Duration
	clock    Clock
	logger   *slog.Logger

	mu      sync.Mutex
	session string
}

// NewNotifier creates a Notifier publishing to topic.
func NewNotifier(client mqtt.Client, topic, encoding string, timeout time.Duration, logger *slog.Logger) *Notifier {
	n := new(Notifier)
	n.client = client
	n.topic = topic
	n.encoding = encoding
	n.timeout = timeout
	n.clock = SystemClock
	if logger == nil {
		logger = slog.Default()
	}
	n.logger = logger
	return n
}

// OnFrameStart publishes a start event under a fresh session id.
func (n *Notifier) OnFrameStart() {
	n.mu.Lock()
	n.session = uuid.NewString()
	session := n.session
	n.mu.Unlock()
	n.publish(FrameStart, session)
}

// OnFrameEnd publishes an end event.
func (n *Notifier) OnFrameEnd() {
	n.mu.Lock()
	session := n.session
	n.session = ""
	n.mu.Unlock()
	n.publish(FrameEnd, session)
}

// Encode serialises an event with the configured encoding.
func (n *Notifier) Encode(ev Event) ([]byte, error) {
	switch n.encoding {
	case EncodingMsgpack:
		return msgpack.Marshal(ev)
	case EncodingJSON, "":
		return json.Marshal(ev)
	}
	return nil, fmt.Errorf("unknown event encoding %q", n.encoding)
}

func (n *Notifier) publish(t EventType, session string) {
	data, err := n.Encode(Event{Type: t.String(), Session: session, Time: n.clock.Now().UTC()})
	if err != nil {
		n.logger.Warn("event encode failed", "event", t, "error", err)
		return
	}

	token := n.client.Publish(n.topic, 1, false, data)
	if n.timeout > 0 && !token.WaitTimeout(n.timeout) {
		n.logger.Warn("event publish timed out", "event", t, "topic", n.topic)
		return
	}
	if err := token.Error(); err != nil {
		n.logger.Warn("event publish failed", "event", t, "topic", n.topic, "error", err)
		return
	}
	n.logger.Debug("event published", "event", t, "session", session)
}
