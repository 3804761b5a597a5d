package stream

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
)

type fakeToken struct {
	mqtt.Token
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }

type fakeClient struct {
	mqtt.Client
	mu       sync.Mutex
	err      error
	payloads [][]byte
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload.([]byte))
	return &fakeToken{err: c.err}
}

func TestNotifierJSONSessions(t *testing.T) {
	client := new(fakeClient)
	n := NewNotifier(client, "events", EncodingJSON, time.Second, nil)
	n.OnFrameStart()
	n.OnFrameEnd()
	n.OnFrameStart()

	require.Len(t, client.payloads, 3)
	var evs [3]Event
	for i, p := range client.payloads {
		require.NoError(t, json.Unmarshal(p, &evs[i]))
	}
	assert.Equal(t, "start", evs[0].Type)
	assert.Equal(t, "end", evs[1].Type)
	assert.NotEmpty(t, evs[0].Session)
	assert.Equal(t, evs[0].Session, evs[1].Session)
	assert.NotEqual(t, evs[0].Session, evs[2].Session)
}

func TestNotifierMsgpack(t *testing.T) {
	client := new(fakeClient)
	n := NewNotifier(client, "events", EncodingMsgpack, 0, nil)
	n.OnFrameEnd()

	require.Len(t, client.payloads, 1)
	var ev Event
	require.NoError(t, msgpack.Unmarshal(client.payloads[0], &ev))
	assert.Equal(t, "end", ev.Type)
	assert.Empty(t, ev.Session)
}

func TestNotifierSurvivesPublishErrors(t *testing.T) {
	client := &fakeClient{err: errors.New("offline")}
	n := NewNotifier(client, "events", EncodingJSON, time.Second, nil)
	assert.NotPanics(t, n.OnFrameStart)

	n = NewNotifier(client, "events", "xml", time.Second, nil)
	_, err := n.Encode(Event{})
	assert.Error(t, err)
	n.OnFrameEnd()
	assert.Len(t, client.payloads, 1)
}

func TestNotifierAsControllerListener(t *testing.T) {
	client := new(fakeClient)
	r := newRig(t, nil)
	r.c.SetOnFrameListener(Listeners{r.events, NewNotifier(client, "events", EncodingJSON, time.Second, nil)})
	r.c.AddFrames(frames(2, 5*time.Millisecond))
	r.c.Start()
	assert.Eventually(t, r.c.IsAnimating, time.Second, time.Millisecond)
	r.c.Stop()
	r.c.Looper().Flush()

	assert.Equal(t, int64(1), r.events.ends.Load())
	client.mu.Lock()
	defer client.mu.Unlock()
	assert.Len(t, client.payloads, 2)
}
