package layout

import (
	"strings"

	"github.com/SLRio/Railway3/internal/store"

	"github.com/google/uuid"
)

// wideView holds one reading in one of two fixed slots; the other slot is
// null.
type wideView struct {
	ID     uuid.UUID `json:"id"`
	Gdate  *string   `json:"Gdate"`
	Gvalue *float64  `json:"Gvalue"`
	Mdate  *string   `json:"Mdate"`
	Mvalue *float64  `json:"Mvalue"`
}

type wideBody struct {
	Gdate  *string `json:"Gdate"`
	Gvalue Number  `json:"Gvalue"`
	Mdate  *string `json:"Mdate"`
	Mvalue Number  `json:"Mvalue"`
}

type wide struct {
	gTopic string
	mTopic string
}

func (wide) Kind() Kind { return Wide }

func (w wide) Topics() []string { return []string{w.gTopic, w.mTopic} }

// Encode reports false for records whose topic belongs to neither slot.
func (w wide) Encode(r store.Record) (any, bool) {
	v := wideView{ID: r.ID}
	date, value := r.Date, r.Value
	switch r.Topic {
	case w.gTopic:
		v.Gdate, v.Gvalue = &date, &value
	case w.mTopic:
		v.Mdate, v.Mvalue = &date, &value
	default:
		return v, false
	}
	return v, true
}

type slot struct {
	date  *string
	value Number
}

func (s slot) present() bool {
	return s.value.Set || (s.date != nil && strings.TrimSpace(*s.date) != "")
}

func (s slot) complete() bool {
	return s.value.Set && s.date != nil && strings.TrimSpace(*s.date) != ""
}

func (s slot) fields(topic string) store.Fields {
	f := store.Fields{Value: s.value.Float(), Topic: topic}
	if s.date != nil {
		f.Date = *s.date
	}
	return f
}

var errOneSlot = &store.ValidationError{Reason: "Exactly one of (Gvalue, Gdate) or (Mvalue, Mdate) is required."}

func (w wide) pick(body []byte) (slot, string, error) {
	var b wideBody
	if err := decode(body, &b); err != nil {
		return slot{}, "", err
	}
	g := slot{date: b.Gdate, value: b.Gvalue}
	m := slot{date: b.Mdate, value: b.Mvalue}
	switch {
	case g.present() && m.present():
		return slot{}, "", errOneSlot
	case g.present():
		return g, w.gTopic, nil
	case m.present():
		return m, w.mTopic, nil
	default:
		return slot{}, "", nil
	}
}

func (w wide) DecodeCreate(body []byte) (store.Fields, error) {
	s, topic, err := w.pick(body)
	if err != nil {
		return store.Fields{}, err
	}
	if topic == "" || !s.complete() {
		return store.Fields{}, errOneSlot
	}
	return s.fields(topic), nil
}

// DecodeUpdate with no slot at all yields NaN and an empty date, which the
// store rejects.
func (w wide) DecodeUpdate(body []byte) (store.Fields, error) {
	s, topic, err := w.pick(body)
	if err != nil {
		return store.Fields{}, err
	}
	return s.fields(topic), nil
}
