package detect

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingEngine struct {
	loaded []ModelConfig
	err    error
}

func (e *recordingEngine) LoadModel(_ context.Context, cfg ModelConfig) error {
	e.loaded = append(e.loaded, cfg)
	return e.err
}

type recordingPublisher struct {
	topic string
	body  []byte
	err   error
}

func (p *recordingPublisher) Publish(topic string, body []byte) error {
	p.topic, p.body = topic, body
	return p.err
}

func TestReload(t *testing.T) {
	e := &recordingEngine{}
	cfg, err := NewModelConfig(WithRateTier(2))
	require.NoError(t, err)

	require.NoError(t, Reload(context.Background(), e, cfg))
	require.Len(t, e.loaded, 1)
	assert.Equal(t, cfg, e.loaded[0])

	err = Reload(context.Background(), e, ModelConfig{RateTier: 20})
	assert.ErrorIs(t, err, ErrInvalidModelConfig)
	assert.Len(t, e.loaded, 1, "invalid config must not reach the engine")

	e.err = errors.New("no gpu")
	err = Reload(context.Background(), e, cfg)
	assert.ErrorContains(t, err, "load model yolox-tiny")
}

func TestNSQEnginePublishesConfig(t *testing.T) {
	pub := &recordingPublisher{}
	engine := NewNSQEngine(pub, "detect.control", zerolog.Nop())
	engine.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	cfg, err := NewModelConfig(WithModel("yolox-nano"), WithBackend(BackendGPU), WithRateTier(1))
	require.NoError(t, err)
	require.NoError(t, Reload(context.Background(), engine, cfg))

	assert.Equal(t, "detect.control", pub.topic)
	var msg ReloadMessage
	require.NoError(t, json.Unmarshal(pub.body, &msg))
	assert.NotEmpty(t, msg.ID)
	assert.Equal(t, cfg, msg.Config)
	assert.Equal(t, "yolox-nano", msg.ModelName)
	assert.Equal(t, 416, msg.TargetSize)
	assert.Equal(t, 2, msg.SampleEvery)
	assert.True(t, msg.IssuedAt.Equal(time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)))
}

func TestNSQEngineErrors(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("connection refused")}
	engine := NewNSQEngine(pub, "detect.control", zerolog.Nop())

	err := engine.LoadModel(context.Background(), DefaultModelConfig())
	assert.ErrorContains(t, err, "publish to detect.control")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, engine.LoadModel(ctx, DefaultModelConfig()), context.Canceled)
}

func TestNSQSourceDecode(t *testing.T) {
	src := &NSQSource{Logger: zerolog.Nop()}

	var id nsq.MessageID
	code, ok := src.decode(nsq.NewMessage(id, []byte("7\n")))
	assert.True(t, ok)
	assert.Equal(t, 7, code)

	_, ok = src.decode(nsq.NewMessage(id, []byte("person")))
	assert.False(t, ok)
}

func TestNSQSourceRequiresAddress(t *testing.T) {
	src := &NSQSource{Topic: "detect.events", Channel: "relay"}
	err := src.Run(context.Background(), func(int) {})
	assert.Error(t, err)
}

func TestNSQLoggerLevels(t *testing.T) {
	var buf bytesBuffer
	l := nsqLogger{zerolog.New(&buf)}
	require.NoError(t, l.Output(2, "ERR    1 [detect.events/relay] lost connection"))
	assert.Contains(t, buf.String(), `"level":"error"`)
	assert.Contains(t, buf.String(), `"component":"nsq"`)
}
