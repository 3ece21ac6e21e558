package detect

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nsqio/go-nsq"
	"github.com/rs/zerolog"
)

// Publisher publishes a message body to a topic. *nsq.Producer satisfies it.
type Publisher interface {
	Publish(topic string, body []byte) error
}

// ReloadMessage is the body NSQEngine publishes on its control topic.
type ReloadMessage struct {
	ID          string      `json:"id"`
	Config      ModelConfig `json:"config"`
	ModelName   string      `json:"model_name"`
	TargetSize  int         `json:"target_size"`
	SampleEvery int         `json:"sample_every"`
	IssuedAt    time.Time   `json:"issued_at"`
}

// NSQEngine asks a remote inference runtime to reload by publishing the
// model configuration on a control topic.
type NSQEngine struct {
	publisher Publisher
	topic     string
	log       zerolog.Logger
	now       func() time.Time
}

var _ Engine = (*NSQEngine)(nil)

// NewNSQEngine publishes reload requests through p on topic
func NewNSQEngine(p Publisher, topic string, logger zerolog.Logger) *NSQEngine {
	return &NSQEngine{publisher: p, topic: topic, log: logger, now: time.Now}
}

// DialNSQEngine connects a producer to nsqdAddr. The returned stop function
// releases the producer.
func DialNSQEngine(nsqdAddr, topic string, logger zerolog.Logger) (*NSQEngine, func(), error) {
	producer, err := nsq.NewProducer(nsqdAddr, nsq.NewConfig())
	if err != nil {
		return nil, nil, fmt.Errorf("create nsq producer: %w", err)
	}
	producer.SetLogger(nsqLogger{logger}, nsq.LogLevelWarning)
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, nil, fmt.Errorf("ping nsqd %s: %w", nsqdAddr, err)
	}
	return NewNSQEngine(producer, topic, logger), producer.Stop, nil
}

func (e *NSQEngine) LoadModel(ctx context.Context, cfg ModelConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := ReloadMessage{
		ID:          uuid.NewString(),
		Config:      cfg,
		ModelName:   cfg.ModelName(),
		TargetSize:  cfg.TargetSize(),
		SampleEvery: cfg.SampleEvery(),
		IssuedAt:    e.now().UTC(),
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode reload message: %w", err)
	}
	if err := e.publisher.Publish(e.topic, body); err != nil {
		return fmt.Errorf("publish to %s: %w", e.topic, err)
	}

	e.log.Info().Str("id", msg.ID).Str("topic", e.topic).Stringer("config", cfg).Msg("model reload requested")
	return nil
}

// NSQSource consumes event codes, one integer per message body.
type NSQSource struct {
	Topic        string
	Channel      string
	NSQDAddrs    []string
	LookupdAddrs []string
	MaxInFlight  int
	Logger       zerolog.Logger
}

var _ Source = (*NSQSource)(nil)

// Run consumes until ctx is done. Malformed messages are logged and finished
// so they are not redelivered.
func (s *NSQSource) Run(ctx context.Context, handle func(code int)) error {
	if len(s.NSQDAddrs) == 0 && len(s.LookupdAddrs) == 0 {
		return errors.New("nsq source: no nsqd or lookupd address configured")
	}

	cfg := nsq.NewConfig()
	if s.MaxInFlight > 0 {
		cfg.MaxInFlight = s.MaxInFlight
	}
	consumer, err := nsq.NewConsumer(s.Topic, s.Channel, cfg)
	if err != nil {
		return fmt.Errorf("create nsq consumer: %w", err)
	}
	consumer.SetLogger(nsqLogger{s.Logger}, nsq.LogLevelWarning)

	// Handlers run on consumer goroutines; handle is called sequentially.
	codes := make(chan int)
	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		code, ok := s.decode(m)
		if !ok {
			return nil
		}
		select {
		case codes <- code:
			return nil
		case <-ctx.Done():
			m.Requeue(-1)
			return nil
		}
	}))

	for _, addr := range s.NSQDAddrs {
		if err := consumer.ConnectToNSQD(addr); err != nil {
			consumer.Stop()
			return fmt.Errorf("connect to nsqd %s: %w", addr, err)
		}
	}
	for _, addr := range s.LookupdAddrs {
		if err := consumer.ConnectToNSQLookupd(addr); err != nil {
			consumer.Stop()
			return fmt.Errorf("connect to lookupd %s: %w", addr, err)
		}
	}
	s.Logger.Info().Str("topic", s.Topic).Str("channel", s.Channel).Msg("consuming event codes")

	for {
		select {
		case code := <-codes:
			handle(code)
		case <-ctx.Done():
			consumer.Stop()
			<-consumer.StopChan
			return nil
		case <-consumer.StopChan:
			return errors.New("nsq consumer stopped")
		}
	}
}

func (s *NSQSource) decode(m *nsq.Message) (int, bool) {
	code, err := ParseCode(m.Body)
	if err != nil {
		s.Logger.Warn().Err(err).Uint16("attempts", m.Attempts).Msg("dropping message")
		return 0, false
	}
	return code, true
}

// nsqLogger routes go-nsq's log lines into zerolog. Lines start with a
// three letter level such as "INF" or "ERR".
type nsqLogger struct {
	log zerolog.Logger
}

func (l nsqLogger) Output(_ int, s string) error {
	level := zerolog.InfoLevel
	if len(s) >= 3 {
		switch s[:3] {
		case "DBG":
			level = zerolog.DebugLevel
		case "WRN":
			level = zerolog.WarnLevel
		case "ERR":
			level = zerolog.ErrorLevel
		}
	}
	l.log.WithLevel(level).Str("component", "nsq").Msg(strings.TrimSpace(s))
	return nil
}
