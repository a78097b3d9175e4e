package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/weather-alerts-service/internal/config"
	"github.com/couchcryptid/weather-alerts-service/internal/domain"
	"github.com/couchcryptid/weather-alerts-service/internal/protocol"
)

// messageWriter is the subset of *kafkago.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Publisher produces WEATHER_ALERTS_UPDATED notifications to a Kafka topic.
// It implements pipeline.Listener.
type Publisher struct {
	writer messageWriter
	key    string
	logger *slog.Logger
}

// NewPublisher creates a Kafka producer for the configured topic. Messages
// are keyed by the instance ID so one display's updates stay ordered.
func NewPublisher(cfg *config.Config, logger *slog.Logger) *Publisher {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Publisher{writer: w, key: cfg.InstanceID, logger: logger}
}

// Name implements pipeline.Listener.
func (p *Publisher) Name() string { return "kafka" }

// WeatherAlertsUpdated publishes one update as a protocol envelope.
func (p *Publisher) WeatherAlertsUpdated(ctx context.Context, update domain.AlertsUpdate) error {
	msg, err := serializeToMessage(p.key, update)
	if err != nil {
		return err
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish alerts update: %w", err)
	}
	p.logger.Debug("alerts update published", "alerts", len(update.CurrentWeatherAlerts), "provider", update.ProviderName)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// serializeToMessage wraps an update in a WEATHER_ALERTS_UPDATED envelope.
func serializeToMessage(key string, update domain.AlertsUpdate) (kafkago.Message, error) {
	env, err := protocol.NewEnvelope(protocol.MsgWeatherAlertsUpdated, update)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alerts update: %w", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize alerts update: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(key),
		Value: data,
		Time:  env.Timestamp,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(env.Type)},
			{Key: "provider", Value: []byte(update.ProviderName)},
			{Key: "alert_count", Value: []byte(strconv.Itoa(len(update.CurrentWeatherAlerts)))},
			{Key: "published_at", Value: []byte(env.Timestamp.Format(time.RFC3339))},
		},
	}, nil
}
