// Package layout converts between the canonical store.Record and the JSON
// shapes the dashboards were built against. One layout is chosen at start-up
// and used for every request.
package layout

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/SLRio/Railway3/internal/series"
	"github.com/SLRio/Railway3/internal/store"

	"github.com/google/uuid"
)

type Kind string

const (
	Untagged Kind = "untagged"
	Tagged   Kind = "tagged"
	Wide     Kind = "wide"
)

func ParseKind(v string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(v))); k {
	case "", Tagged:
		return Tagged, nil
	case Untagged, Wide:
		return k, nil
	default:
		return "", fmt.Errorf("unknown record layout %q", v)
	}
}

// Adapter is one wire shape.
//
// DecodeCreate enforces the presence of required fields. DecodeUpdate does
// not: absent fields come back as their zero value (NaN for value) and the
// store decides whether the result is acceptable.
type Adapter interface {
	Kind() Kind
	Encode(rec store.Record) (view any, ok bool)
	DecodeCreate(body []byte) (store.Fields, error)
	DecodeUpdate(body []byte) (store.Fields, error)
	// Topics lists the topics the layout can show, or nil for all of them.
	Topics() []string
}

// New builds the adapter for kind. The wide layout needs the G and M sensor
// codes in the series table.
func New(kind Kind, tbl *series.Table) (Adapter, error) {
	switch kind {
	case Untagged:
		return untagged{}, nil
	case Tagged:
		return tagged{}, nil
	case Wide:
		g, ok := tbl.ByCode("G")
		if !ok {
			return nil, fmt.Errorf("wide layout requires a series with code G")
		}
		m, ok := tbl.ByCode("M")
		if !ok {
			return nil, fmt.Errorf("wide layout requires a series with code M")
		}
		return wide{gTopic: g.Topic, mTopic: m.Topic}, nil
	default:
		return nil, fmt.Errorf("unknown record layout %q", kind)
	}
}

// EncodeAll renders recs, skipping those the layout cannot represent. The
// result is never nil so it always serializes as a JSON array.
func EncodeAll(a Adapter, recs []store.Record) []any {
	out := make([]any, 0, len(recs))
	for _, r := range recs {
		if v, ok := a.Encode(r); ok {
			out = append(out, v)
		}
	}
	return out
}

var errRequired = &store.ValidationError{Reason: "Value and date are required."}

func decode(body []byte, dst any) error {
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return &store.ValidationError{Field: "body", Reason: "must be a JSON object"}
	}
	return nil
}

type flatBody struct {
	Value Number `json:"value"`
	Date  string `json:"date"`
	Topic string `json:"topic"`
}

type taggedView struct {
	ID    uuid.UUID `json:"id"`
	Value float64   `json:"value"`
	Date  string    `json:"date"`
	Topic string    `json:"topic"`
}

type tagged struct{}

func (tagged) Kind() Kind { return Tagged }

func (tagged) Encode(r store.Record) (any, bool) {
	return taggedView{ID: r.ID, Value: r.Value, Date: r.Date, Topic: r.Topic}, true
}

func (tagged) Topics() []string { return nil }

func (tagged) DecodeCreate(body []byte) (store.Fields, error) {
	var b flatBody
	if err := decode(body, &b); err != nil {
		return store.Fields{}, err
	}
	if !b.Value.Set || strings.TrimSpace(b.Date) == "" {
		return store.Fields{}, errRequired
	}
	return store.Fields{Value: b.Value.Float(), Date: b.Date, Topic: b.Topic}, nil
}

func (tagged) DecodeUpdate(body []byte) (store.Fields, error) {
	var b flatBody
	if err := decode(body, &b); err != nil {
		return store.Fields{}, err
	}
	return store.Fields{Value: b.Value.Float(), Date: b.Date, Topic: b.Topic}, nil
}

type untaggedView struct {
	ID    uuid.UUID `json:"id"`
	Value float64   `json:"value"`
	Date  string    `json:"date"`
}

// untagged ignores any topic sent by the caller.
type untagged struct{}

func (untagged) Kind() Kind { return Untagged }

func (untagged) Encode(r store.Record) (any, bool) {
	return untaggedView{ID: r.ID, Value: r.Value, Date: r.Date}, true
}

func (untagged) Topics() []string { return nil }

func (untagged) DecodeCreate(body []byte) (store.Fields, error) {
	f, err := tagged{}.DecodeCreate(body)
	f.Topic = ""
	return f, err
}

func (untagged) DecodeUpdate(body []byte) (store.Fields, error) {
	f, err := tagged{}.DecodeUpdate(body)
	f.Topic = ""
	return f, err
}
