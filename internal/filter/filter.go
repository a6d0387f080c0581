// Package filter turns the optional discriminator of list and bulk-delete
// requests into a predicate over record topics.
//
// The same Filter value scopes both operations, so anything a caller can list
// it can bulk-delete with the same query string.
package filter

import (
	"errors"
	"net/url"
	"strings"

	"github.com/SLRio/Railway3/internal/series"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrUnknownDiscriminator is returned in strict mode for a sensor code or
// series name that is not configured.
var ErrUnknownDiscriminator = errors.New("unknown filter discriminator")

type Kind int

const (
	None Kind = iota
	ByTopic
	BySensor
	BySeries
)

func (k Kind) String() string {
	switch k {
	case ByTopic:
		return "topic"
	case BySensor:
		return "sensor"
	case BySeries:
		return "series"
	default:
		return "none"
	}
}

// Filter is the resolved discriminator. Value keeps what the caller sent,
// Topic is the label records must carry to match.
type Filter struct {
	Kind  Kind
	Value string
	Topic string
}

// All matches every record.
func All() Filter { return Filter{} }

// Topic matches records whose topic equals name exactly.
func Topic(name string) Filter {
	return Filter{Kind: ByTopic, Value: name, Topic: name}
}

func (f Filter) IsNone() bool { return f.Kind == None }

func (f Filter) Match(topic string) bool {
	return f.Kind == None || topic == f.Topic
}

// Exprs renders the predicate for gorm. An empty slice means no WHERE.
func (f Filter) Exprs() []clause.Expression {
	if f.Kind == None {
		return nil
	}
	return []clause.Expression{clause.Eq{Column: clause.Column{Name: "topic"}, Value: f.Topic}}
}

// Apply scopes q to the records f matches.
func (f Filter) Apply(q *gorm.DB) *gorm.DB {
	if exprs := f.Exprs(); len(exprs) > 0 {
		return q.Clauses(clause.Where{Exprs: exprs})
	}
	return q
}

func (f Filter) String() string {
	if f.Kind == None {
		return "none"
	}
	return f.Kind.String() + "=" + f.Value
}

// Translator resolves sensor codes and series names through the configured
// series table. With Strict unset an unknown code falls back to None.
type Translator struct {
	Series *series.Table
	Strict bool
}

// Parse reads topic, sensor and series from q, in that order of precedence.
// Blank values count as absent.
func (t *Translator) Parse(q url.Values) (Filter, error) {
	if v := strings.TrimSpace(q.Get("topic")); v != "" {
		return Topic(v), nil
	}
	if v := strings.TrimSpace(q.Get("sensor")); v != "" {
		return t.Sensor(v)
	}
	if v := strings.TrimSpace(q.Get("series")); v != "" {
		return t.SeriesName(v)
	}
	return All(), nil
}

func (t *Translator) Sensor(code string) (Filter, error) {
	s, ok := t.Series.ByCode(code)
	if !ok {
		return t.fallback()
	}
	return Filter{Kind: BySensor, Value: code, Topic: s.Topic}, nil
}

func (t *Translator) SeriesName(name string) (Filter, error) {
	s, ok := t.Series.ByName(name)
	if !ok {
		return t.fallback()
	}
	return Filter{Kind: BySeries, Value: name, Topic: s.Topic}, nil
}

func (t *Translator) fallback() (Filter, error) {
	if t.Strict {
		return Filter{}, ErrUnknownDiscriminator
	}
	return All(), nil
}
