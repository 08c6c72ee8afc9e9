package mqtt

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/spotit-go/internal/conf"
	"github.com/tphakala/spotit-go/internal/detection"
	"github.com/tphakala/spotit-go/internal/errors"
	"github.com/tphakala/spotit-go/internal/pipeline"
)

// fakeToken completes immediately unless pending is set
type fakeToken struct {
	err  error
	done chan struct{}
}

func newToken(err error, pending bool) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	if !pending {
		close(t.done)
	}
	return t
}

func (t *fakeToken) Wait() bool { <-t.done; return true }
func (t *fakeToken) WaitTimeout(d time.Duration) bool {
	select {
	case <-t.done:
		return true
	case <-time.After(d):
		return false
	}
}
func (t *fakeToken) Done() <-chan struct{} { return t.done }
func (t *fakeToken) Error() error          { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

// fakePaho records publishes; unimplemented paho.Client methods panic
type fakePaho struct {
	paho.Client

	mu         sync.Mutex
	connected  bool
	connectErr error
	publishErr error
	hang       bool
	messages   []published
	opts       *paho.ClientOptions
}

func (f *fakePaho) Connect() paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = f.connectErr == nil
	return newToken(f.connectErr, false)
}

func (f *fakePaho) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakePaho) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
}

func (f *fakePaho) Publish(topic string, qos byte, retained bool, payload any) paho.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, published{topic, qos, retained, payload.([]byte)})
	return newToken(f.publishErr, f.hang)
}

type fakeRecorder struct {
	mu         sync.Mutex
	connected  bool
	publishes  int
	errors     int
	reconnects int
}

func (r *fakeRecorder) SetConnected(c bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.connected = c
}

func (r *fakeRecorder) RecordPublish(_ string, _ int, _ float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.publishes++
	if err != nil {
		r.errors++
	}
}

func (r *fakeRecorder) RecordReconnect() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reconnects++
}

func newTestClient(t *testing.T, fake *fakePaho, rec Recorder) *client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Broker = "tcp://127.0.0.1:1883"
	cfg.ClientID = "spotit-test"
	cfg.QoS = 1
	cfg.Retain = true
	cfg.ReconnectCooldown = 0
	cfg.PublishTimeout = 50 * time.Millisecond
	c := NewClient(cfg, rec).(*client)
	c.newPaho = func(opts *paho.ClientOptions) paho.Client {
		fake.opts = opts
		return fake
	}
	return c
}

func TestClient_ConnectAndPublish(t *testing.T) {
	fake := &fakePaho{}
	rec := &fakeRecorder{}
	c := newTestClient(t, fake, rec)

	require.NoError(t, c.Connect(t.Context()))
	assert.True(t, c.IsConnected())
	assert.True(t, rec.connected)
	assert.Equal(t, "spotit-test", fake.opts.ClientID)
	assert.True(t, fake.opts.AutoReconnect)

	require.NoError(t, c.Publish(t.Context(), "spotit/test", []byte("hello")))
	require.Len(t, fake.messages, 1)
	assert.Equal(t, published{"spotit/test", 1, true, []byte("hello")}, fake.messages[0])
	assert.Equal(t, 1, rec.publishes)

	c.Disconnect()
	assert.False(t, c.IsConnected())
	assert.False(t, rec.connected)
}

func TestClient_ConnectErrors(t *testing.T) {
	fake := &fakePaho{connectErr: errors.NewStd("not authorized")}
	c := newTestClient(t, fake, nil)
	err := c.Connect(t.Context())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))

	c.config.Broker = "://bad"
	err = c.Connect(t.Context())
	assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
}

func TestClient_ConnectCooldown(t *testing.T) {
	c := newTestClient(t, &fakePaho{}, nil)
	c.config.ReconnectCooldown = time.Hour
	require.NoError(t, c.Connect(t.Context()))
	err := c.Connect(t.Context())
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTConnection))
}

func TestClient_PublishFailures(t *testing.T) {
	fake := &fakePaho{}
	rec := &fakeRecorder{}
	c := newTestClient(t, fake, rec)

	err := c.Publish(t.Context(), "t", []byte("x"))
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish), "not connected")

	require.NoError(t, c.Connect(t.Context()))
	fake.publishErr = errors.NewStd("broken pipe")
	err = c.Publish(t.Context(), "t", []byte("x"))
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish))

	fake.publishErr = nil
	fake.hang = true
	err = c.Publish(t.Context(), "t", []byte("x"))
	assert.True(t, errors.IsCategory(err, errors.CategoryMQTTPublish), "timeout")

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	err = c.Publish(ctx, "t", []byte("x"))
	assert.Error(t, err)

	assert.Equal(t, 3, rec.publishes)
	assert.Equal(t, 3, rec.errors)
}

func TestClient_ReconnectingHandler(t *testing.T) {
	fake := &fakePaho{}
	rec := &fakeRecorder{}
	c := newTestClient(t, fake, rec)
	require.NoError(t, c.Connect(t.Context()))

	fake.opts.OnConnectionLost(fake, errors.NewStd("eof"))
	assert.False(t, rec.connected)
	fake.opts.OnReconnecting(fake, fake.opts)
	fake.opts.OnConnect(fake)
	assert.True(t, rec.connected)
	assert.Equal(t, 1, rec.reconnects)
}

// memClient is an in-memory Client for publisher tests
type memClient struct {
	topics   []string
	payloads [][]byte
}

func (m *memClient) Connect(context.Context) error { return nil }
func (m *memClient) IsConnected() bool             { return true }
func (m *memClient) Disconnect()                   {}
func (m *memClient) Publish(_ context.Context, topic string, payload []byte) error {
	m.topics = append(m.topics, topic)
	m.payloads = append(m.payloads, payload)
	return nil
}

func TestPublisher_Batch(t *testing.T) {
	mem := &memClient{}
	p := NewPublisher(mem, "home/cam")

	batch := &pipeline.Batch{
		Version:   4,
		Frame:     pipeline.Frame{Seq: 12, Source: "a.png"},
		Inference: 35 * time.Millisecond,
		Detections: []detection.Detection{{
			ID: "det_1_0", ClassID: 0, ClassName: "person", Confidence: 0.9,
			BBox: detection.Rect{X: 1, Y: 2, W: 3, H: 4},
		}},
	}
	require.NoError(t, p.PublishBatch(t.Context(), batch))
	require.NoError(t, p.PublishBatch(t.Context(), nil))

	require.Equal(t, []string{"home/cam/detections"}, mem.topics)
	var msg BatchMessage
	require.NoError(t, json.Unmarshal(mem.payloads[0], &msg))
	assert.Equal(t, uint64(4), msg.Version)
	assert.Equal(t, uint64(12), msg.FrameSeq)
	assert.Equal(t, int64(35), msg.InferenceMs)
	require.Len(t, msg.Detections, 1)
	assert.Equal(t, "person", msg.Detections[0].ClassName)
}

func TestPublisher_EmptyBatchHasArray(t *testing.T) {
	mem := &memClient{}
	p := NewPublisher(mem, "")
	require.NoError(t, p.PublishBatch(t.Context(), &pipeline.Batch{Version: 1}))
	assert.Equal(t, "spotit/detections", mem.topics[0])
	assert.Contains(t, string(mem.payloads[0]), `"detections":[]`)
}

func TestPublisher_Item(t *testing.T) {
	mem := &memClient{}
	p := NewPublisher(mem, "spotit")
	require.NoError(t, p.PublishItem(t.Context(), ItemMessage{ItemID: "i1", Status: "enriched"}))
	assert.Equal(t, "spotit/items", mem.topics[0])

	var msg ItemMessage
	require.NoError(t, json.Unmarshal(mem.payloads[0], &msg))
	assert.Equal(t, "i1", msg.ItemID)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestConfigFromSettings(t *testing.T) {
	s := &conf.Settings{}
	s.Main.Name = "cam1"
	s.MQTT.Broker = "tcp://broker:1883"
	s.MQTT.QoS = 1
	cfg := ConfigFromSettings(s)
	assert.Equal(t, "cam1", cfg.ClientID)
	assert.Equal(t, "spotit", cfg.Topic)
	assert.Equal(t, byte(1), cfg.QoS)
	assert.Equal(t, 5*time.Second, cfg.ReconnectCooldown)
}
