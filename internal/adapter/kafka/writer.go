package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/epiweek-climate-etl/internal/domain"
	"github.com/couchcryptid/epiweek-climate-etl/internal/observability"
)

// Publisher produces one message per output row to a Kafka topic.
// It implements pipeline.Loader.
type Publisher struct {
	writer  *kafkago.Writer
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewPublisher creates a Kafka producer for topic.
func NewPublisher(brokers []string, topic string, logger *slog.Logger, metrics *observability.Metrics) *Publisher {
	w := &kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Publisher{writer: w, logger: logger, metrics: metrics}
}

// LoadTables publishes every row of every table in a single WriteMessages
// call. Rows of one polygon share a partition through the key hash.
func (p *Publisher) LoadTables(ctx context.Context, tables []domain.Table) error {
	var msgs []kafkago.Message
	for _, t := range tables {
		tm, err := tableMessages(t)
		if err != nil {
			return err
		}
		msgs = append(msgs, tm...)
	}
	if len(msgs) == 0 {
		return nil
	}

	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("publish %d rows to %s: %w", len(msgs), p.writer.Topic, err)
	}
	p.metrics.RowsPublished.Add(float64(len(msgs)))
	p.logger.Info("rows published", "topic", p.writer.Topic, "rows", len(msgs))
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// rowMessage is the JSON value of one published row. Null cells are null.
type rowMessage struct {
	Product   string              `json:"product"`
	PolygonID string              `json:"polygon_id"`
	Year      int                 `json:"year"`
	Week      int                 `json:"week"`
	Start     string              `json:"start"`
	End       string              `json:"end"`
	Values    map[string]*float64 `json:"values"`
}

// tableMessages serializes each row of t into a Kafka message.
func tableMessages(t domain.Table) ([]kafkago.Message, error) {
	names := t.ColumnNames()
	processedAt := []byte(t.GeneratedAt.Format(time.RFC3339))

	msgs := make([]kafkago.Message, len(t.Windows))
	for i, w := range t.Windows {
		row := rowMessage{
			Product:   t.Product,
			PolygonID: t.PolygonID,
			Year:      w.Year,
			Week:      w.WeekID,
			Start:     domain.FormatDay(w.Start),
			End:       domain.FormatDay(w.End),
			Values:    make(map[string]*float64, len(names)),
		}
		for j, name := range names {
			if v := t.Values[i][j]; !domain.IsNull(v) {
				row.Values[name] = &v
			} else {
				row.Values[name] = nil
			}
		}

		data, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("serialize row %s of %s: %w", w, t.PolygonID, err)
		}
		msgs[i] = kafkago.Message{
			Key:   []byte(fmt.Sprintf("%s/%s/%d-%d", t.Product, t.PolygonID, w.Year, w.WeekID)),
			Value: data,
			Headers: []kafkago.Header{
				{Key: "product", Value: []byte(t.Product)},
				{Key: "processed_at", Value: processedAt},
			},
		}
	}
	return msgs, nil
}
