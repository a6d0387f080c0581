package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/SLRio/Railway3/internal/observability"
	"github.com/SLRio/Railway3/internal/realtime"
	"github.com/SLRio/Railway3/internal/series"
	"github.com/SLRio/Railway3/internal/store"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var (
	ErrMalformedPayload = errors.New("payload is not a finite number")
	ErrUnknownTopic     = errors.New("topic is not mapped to a series")
)

// Policy decides what happens to readings on topics missing from the series
// table.
type Policy string

const (
	PolicyDrop  Policy = "drop"
	PolicyStore Policy = "store"
)

func ParsePolicy(v string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(v))); p {
	case "", PolicyDrop:
		return PolicyDrop, nil
	case PolicyStore:
		return p, nil
	default:
		return "", fmt.Errorf("unknown topic policy %q", v)
	}
}

type MQTTMessage interface {
	Topic() string
	Payload() []byte
	Retained() bool
}

type RecordCreator interface {
	Create(ctx context.Context, rec *store.Record) error
}

type LatestWriter interface {
	Put(ctx context.Context, topic string, rec store.Record) error
}

type Broadcaster interface {
	Broadcast(ev realtime.Event)
}

// Ingestor turns MQTT readings into records. Latest and Events are optional.
type Ingestor struct {
	Repo         RecordCreator
	Series       *series.Table
	Policy       Policy
	AllowRetains bool
	Latest       LatestWriter
	Events       Broadcaster

	// BlankTopic stores readings without their topic, for the untagged
	// layout. Routing and the latest cache still use the MQTT topic.
	BlankTopic bool

	wg sync.WaitGroup
}

// Dispatch handles msg on its own goroutine. A slow or failing message never
// holds up the next one.
func (i *Ingestor) Dispatch(ctx context.Context, msg MQTTMessage) {
	receivedAt := time.Now().UTC()
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		i.HandleMessage(ctx, msg, receivedAt)
	}()
}

// Wait blocks until every dispatched message has finished.
func (i *Ingestor) Wait() {
	i.wg.Wait()
}

// HandleMessage processes one message and logs the outcome. Errors never
// propagate: a dropped message is final.
func (i *Ingestor) HandleMessage(ctx context.Context, msg MQTTMessage, receivedAt time.Time) {
	topic := msg.Topic()
	if msg.Retained() && !i.AllowRetains {
		slog.Debug("ingest ignoring retained", "topic", topic)
		observability.IngestMessages.WithLabelValues(topic, observability.ResultRetained).Inc()
		return
	}

	rec, err := i.Ingest(ctx, topic, msg.Payload(), receivedAt)
	switch {
	case err == nil:
		observability.IngestMessages.WithLabelValues(topic, observability.ResultStored).Inc()
		slog.Debug("ingest record stored", "topic", topic, "id", rec.ID, "value", rec.Value)
	case errors.Is(err, ErrMalformedPayload):
		observability.IngestMessages.WithLabelValues(topic, observability.ResultMalformed).Inc()
		slog.Warn("ingest payload rejected", "topic", topic, "payload", truncate(msg.Payload()), "error", err)
	case errors.Is(err, ErrUnknownTopic):
		observability.IngestMessages.WithLabelValues(topic, observability.ResultUnknownTopic).Inc()
		slog.Warn("ingest topic not mapped", "topic", topic)
	default:
		observability.IngestMessages.WithLabelValues(topic, observability.ResultStoreFailed).Inc()
		slog.Error("ingest db insert failed", "topic", topic, "error", err)
	}
}

// Ingest parses, routes, stamps and persists one reading.
func (i *Ingestor) Ingest(ctx context.Context, topic string, payload []byte, receivedAt time.Time) (*store.Record, error) {
	ctx, span := otel.Tracer("telemetry-service/ingest").Start(ctx, "ingest "+topic)
	defer span.End()

	value, err := ParseReading(payload)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if _, ok := i.Series.ByTopic(topic); !ok && i.Policy != PolicyStore {
		span.SetStatus(codes.Error, ErrUnknownTopic.Error())
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}

	rec := &store.Record{Value: value, Date: store.FormatDate(receivedAt), Topic: topic}
	if i.BlankTopic {
		rec.Topic = ""
	}
	if err := i.Repo.Create(ctx, rec); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		return nil, err
	}
	span.SetAttributes(attribute.String("record.id", rec.ID.String()))

	if i.Latest != nil {
		if err := i.Latest.Put(ctx, topic, *rec); err != nil {
			slog.Warn("ingest latest cache update failed", "topic", topic, "error", err)
		}
	}
	if i.Events != nil {
		i.Events.Broadcast(realtime.RecordEvent(realtime.RecordCreated, *rec))
	}
	return rec, nil
}

// ParseReading reads a payload as a decimal number.
func ParseReading(payload []byte) (float64, error) {
	s := strings.TrimSpace(string(payload))
	if s == "" {
		return 0, fmt.Errorf("%w: empty", ErrMalformedPayload)
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %q", ErrMalformedPayload, s)
	}
	return v, nil
}

func truncate(b []byte) string {
	const max = 64
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}
