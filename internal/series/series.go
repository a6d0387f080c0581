// Package series holds the mapping between MQTT topics and the logical
// sensor series a reading belongs to.
package series

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Series is one logical partition of readings.
//
// Topic is the label persisted on every record of the series. Name is the
// human series identifier ("rainfall") and Code the short sensor code used by
// dashboards and the wide layout ("G").
type Series struct {
	Topic string `yaml:"topic"`
	Name  string `yaml:"name"`
	Code  string `yaml:"code"`
}

// Default mirrors the two sensors the dashboard pages were built around.
func Default() []Series {
	return []Series{
		{Topic: "Garbage", Name: "rainfall", Code: "G"},
		{Topic: "Methane", Name: "ammonia", Code: "M"},
	}
}

// Table is an immutable lookup over a set of series. A nil *Table knows no
// series.
type Table struct {
	all     []Series
	byTopic map[string]Series
	byCode  map[string]Series
	byName  map[string]Series
}

func NewTable(list []Series) (*Table, error) {
	t := &Table{
		byTopic: make(map[string]Series, len(list)),
		byCode:  make(map[string]Series, len(list)),
		byName:  make(map[string]Series, len(list)),
	}
	for _, s := range list {
		s.Topic = strings.TrimSpace(s.Topic)
		s.Name = strings.TrimSpace(s.Name)
		s.Code = strings.ToUpper(strings.TrimSpace(s.Code))
		if s.Topic == "" {
			return nil, errors.New("series topic is required")
		}
		if s.Name == "" {
			s.Name = s.Topic
		}
		if _, dup := t.byTopic[s.Topic]; dup {
			return nil, fmt.Errorf("duplicate series topic %q", s.Topic)
		}
		if _, dup := t.byName[s.Name]; dup {
			return nil, fmt.Errorf("duplicate series name %q", s.Name)
		}
		if s.Code != "" {
			if _, dup := t.byCode[s.Code]; dup {
				return nil, fmt.Errorf("duplicate series code %q", s.Code)
			}
			t.byCode[s.Code] = s
		}
		t.byTopic[s.Topic] = s
		t.byName[s.Name] = s
		t.all = append(t.all, s)
	}
	return t, nil
}

func (t *Table) ByTopic(topic string) (Series, bool) {
	if t == nil {
		return Series{}, false
	}
	s, ok := t.byTopic[topic]
	return s, ok
}

// ByCode is case-insensitive: "g" and "G" resolve to the same series.
func (t *Table) ByCode(code string) (Series, bool) {
	if t == nil {
		return Series{}, false
	}
	s, ok := t.byCode[strings.ToUpper(strings.TrimSpace(code))]
	return s, ok
}

func (t *Table) ByName(name string) (Series, bool) {
	if t == nil {
		return Series{}, false
	}
	s, ok := t.byName[strings.TrimSpace(name)]
	return s, ok
}

// Topics returns the configured topics in sorted order.
func (t *Table) Topics() []string {
	if t == nil {
		return nil
	}
	out := make([]string, 0, len(t.all))
	for _, s := range t.all {
		out = append(out, s.Topic)
	}
	sort.Strings(out)
	return out
}

func (t *Table) All() []Series {
	if t == nil {
		return nil
	}
	return append([]Series(nil), t.all...)
}

// Parse reads the compact env form "Topic=name:CODE,Topic2=name2".
// Name and code are optional; "Garbage" alone maps the topic to itself.
func Parse(raw string) ([]Series, error) {
	var out []Series
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		var s Series
		topic, rest, hasRest := strings.Cut(part, "=")
		s.Topic = strings.TrimSpace(topic)
		if hasRest {
			name, code, _ := strings.Cut(rest, ":")
			s.Name = strings.TrimSpace(name)
			s.Code = strings.TrimSpace(code)
		}
		if s.Topic == "" {
			return nil, fmt.Errorf("invalid series entry %q", part)
		}
		out = append(out, s)
	}
	return out, nil
}
