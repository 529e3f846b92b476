package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/couchcryptid/storm-data-shared/retry"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/ar-landfall/internal/config"
	"github.com/couchcryptid/ar-landfall/internal/domain"
	"github.com/couchcryptid/ar-landfall/internal/observability"
)

// batchSize bounds the number of messages per WriteMessages call.
const batchSize = 500

// A failed batch is retried with exponential backoff: start at 200ms,
// double each retry, cap at 5s.
const (
	maxAttempts    = 5
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second
)

// Writer publishes attributed rows to a Kafka topic.
// It implements pipeline.ScopeLoader.
type Writer struct {
	writer  messageWriter
	topic   string
	logger  *slog.Logger
	metrics *observability.Metrics
	backoff time.Duration
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, topic: cfg.KafkaSinkTopic, logger: logger, metrics: metrics, backoff: initialBackoff}
}

// LoadScope publishes one message per row of the scope, keyed by AR
// instance so rows of the same instance land on the same partition.
func (w *Writer) LoadScope(ctx context.Context, res *domain.ScopeResult) error {
	msgs := make([]kafkago.Message, 0, min(len(res.Rows), batchSize))
	flush := func() error {
		if len(msgs) == 0 {
			return nil
		}
		if err := w.publish(ctx, msgs); err != nil {
			return fmt.Errorf("publish scope %d: %w", res.Scope, err)
		}
		w.metrics.RowsPublished.Add(float64(len(msgs)))
		msgs = msgs[:0]
		return nil
	}

	for i := range res.Rows {
		msg, err := serializeToMessage(res.Scope, i, &res.Rows[i], res.Continents)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
		if len(msgs) == batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	if err := flush(); err != nil {
		return err
	}
	w.logger.Info("scope published", "scope", res.Scope, "rows", len(res.Rows), "topic", w.topic)
	return nil
}

// publish writes one batch, retrying failed attempts until maxAttempts is
// reached or ctx is done.
func (w *Writer) publish(ctx context.Context, msgs []kafkago.Message) error {
	backoff := w.backoff
	var err error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err = w.writer.WriteMessages(ctx, msgs...); err == nil {
			return nil
		}
		if ctx.Err() != nil || attempt == maxAttempts {
			break
		}
		w.logger.Warn("publish batch failed, retrying",
			"error", err, "attempt", attempt, "batch_size", len(msgs), "backoff", backoff)
		if !retry.SleepWithContext(ctx, backoff) {
			break
		}
		backoff = retry.NextBackoff(backoff, maxBackoff)
	}
	return err
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// rowMessage is the wire form of an attributed row. Missing values are null.
type rowMessage struct {
	Scope       int                        `json:"scope"`
	Row         int                        `json:"row"`
	TrackID     int64                      `json:"trackid"`
	Time        time.Time                  `json:"time"`
	CentroidX   *float64                   `json:"centroid_x"`
	CentroidY   *float64                   `json:"centroid_y"`
	AxisLength  *float64                   `json:"axis_length"`
	ARArea      *float64                   `json:"ar_area"`
	Ocean       *float64                   `json:"ocean"`
	Land        *float64                   `json:"land"`
	LFContinent *string                    `json:"lf_continent"`
	LFLon       *float64                   `json:"lf_lon"`
	LFLat       *float64                   `json:"lf_lat"`
	LFIVT       *float64                   `json:"lf_ivt"`
	Continents  map[string]*float64        `json:"continents"`
	Attrs       map[string]json.RawMessage `json:"attrs,omitempty"`
}

// serializeToMessage marshals a row into a Kafka message.
func serializeToMessage(scope, row int, r *domain.AttributedRow, continents []string) (kafkago.Message, error) {
	m := rowMessage{
		Scope:      scope,
		Row:        row,
		TrackID:    r.TrackID,
		Time:       r.Time.UTC(),
		CentroidX:  nullable(r.CentroidLon),
		CentroidY:  nullable(r.CentroidLat),
		AxisLength: nullable(r.AxisLength),
		ARArea:     nullable(r.ARArea),
		Ocean:      nullable(r.Ocean),
		Land:       nullable(r.Land),
		LFLon:      nullable(r.Landfall.Lon),
		LFLat:      nullable(r.Landfall.Lat),
		LFIVT:      nullable(r.Landfall.Intensity),
		Continents: make(map[string]*float64, len(continents)),
		Attrs:      r.Attrs,
	}
	if r.Landfall.Continent != "" {
		m.LFContinent = &r.Landfall.Continent
	}
	for _, name := range continents {
		m.Continents[name] = nullable(r.Proportions[name])
	}

	data, err := json.Marshal(m)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize row %d: %w", row, err)
	}
	return kafkago.Message{
		Key:   []byte(r.Key()),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "scope", Value: []byte(strconv.Itoa(scope))},
			{Key: "lf_continent", Value: []byte(r.Landfall.Continent)},
		},
	}, nil
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
