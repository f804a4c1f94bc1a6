package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"wallet-auth-service/internal/bucketing"
	"wallet-auth-service/internal/client"
	"wallet-auth-service/internal/config"
	"wallet-auth-service/internal/models"
	"wallet-auth-service/internal/util"
)

const sinkTimeout = 5 * time.Second

// Publisher fans auth events out to the event stream, the analytics
// warehouse and the ops search index. Every sink is best-effort: a
// failure is logged and swallowed so audit never blocks or fails an
// authentication flow. Any sink may be nil when its backend is not
// configured.
type Publisher struct {
	kafka      *client.KafkaProducer
	clickhouse *client.ClickHouseClient
	es         *client.ESClient
	buckets    *bucketing.Manager
	topic      string
	index      string
}

func NewPublisher(
	cfg *config.Config,
	kafka *client.KafkaProducer,
	clickhouse *client.ClickHouseClient,
	es *client.ESClient,
	buckets *bucketing.Manager,
) *Publisher {
	return &Publisher{
		kafka:      kafka,
		clickhouse: clickhouse,
		es:         es,
		buckets:    buckets,
		topic:      cfg.Kafka.AuthEventsTopic,
		index:      cfg.Elasticsearch.AuthEventsIndex,
	}
}

// Emit records one auth event. It stamps bucketing fields and writes the
// sinks in the background, detached from the request context so an
// already-answered request cannot cancel the writes.
func (p *Publisher) Emit(eventType, phoneNumber, ipAddress, userID, details string) {
	now := time.Now().UTC()
	event := &models.AuthEvent{
		EventBucket: p.buckets.EventBucket(phoneNumber + ipAddress),
		EventDate:   p.buckets.DateBucket(now),
		EventTime:   now,
		EventType:   eventType,
		PhoneNumber: phoneNumber,
		IPAddress:   ipAddress,
		UserID:      userID,
		Details:     details,
	}

	go p.publish(event)
}

func (p *Publisher) publish(event *models.AuthEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sinkTimeout)
	defer cancel()

	payload, err := json.Marshal(event)
	if err != nil {
		util.Error("failed to encode auth event", zap.Error(err))
		return
	}

	if p.kafka != nil {
		if err := p.kafka.ProduceMessage(ctx, p.topic, []byte(event.PhoneNumber), payload); err != nil {
			util.Warn("failed to publish auth event to kafka",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}

	if p.clickhouse != nil {
		if err := p.clickhouse.InsertAuthEvent(ctx, event); err != nil {
			util.Warn("failed to insert auth event into clickhouse",
				zap.String("event_type", event.EventType),
				zap.Error(err))
		}
	}

	if p.es != nil {
		docID := fmt.Sprintf("%d-%s", event.EventTime.UnixNano(), uuid.NewString())
		res, err := p.es.IndexDocument(ctx, p.index, docID, event)
		if err != nil {
			util.Warn("failed to index auth event",
				zap.String("event_type", event.EventType),
				zap.Error(err))
			return
		}
		defer res.Body.Close()
		if res.IsError() {
			util.Warn("elasticsearch rejected auth event",
				zap.String("event_type", event.EventType),
				zap.String("status", res.Status()))
		}
	}
}
