package calendar

import (
	"sync"

	"calmerge/internal/model"
)

// Projection is the caller-owned, in-memory copy of a rendered window. The
// engine reads and writes it during mutations but never keeps one itself;
// between a mutation and the next query it is the source of truth for the
// presentation layer.
type Projection struct {
	mu     sync.RWMutex
	window Range
	events map[model.EventKey]model.CalendarEvent
}

func NewProjection(w Range, events []model.CalendarEvent) *Projection {
	p := &Projection{}
	p.Reset(w, events)
	return p
}

// Reset replaces the whole projection with a fresh query result.
func (p *Projection) Reset(w Range, events []model.CalendarEvent) {
	m := make(map[model.EventKey]model.CalendarEvent, len(events))
	for _, ev := range events {
		m[ev.Key()] = ev.Clone()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.window = w
	p.events = m
}

func (p *Projection) Window() Range {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.window
}

func (p *Projection) Get(key model.EventKey) (model.CalendarEvent, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	ev, ok := p.events[key]
	if !ok {
		return model.CalendarEvent{}, false
	}
	return ev.Clone(), true
}

func (p *Projection) Put(ev model.CalendarEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.events == nil {
		p.events = make(map[model.EventKey]model.CalendarEvent)
	}
	p.events[ev.Key()] = ev.Clone()
}

func (p *Projection) Remove(key model.EventKey) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.events, key)
}

func (p *Projection) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.events)
}

// Events returns a sorted copy of the projection.
func (p *Projection) Events() []model.CalendarEvent {
	p.mu.RLock()
	out := make([]model.CalendarEvent, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Clone())
	}
	p.mu.RUnlock()

	SortEvents(out)
	return out
}

// Series returns the entries of one source record: its anchor or plain
// event plus every generated occurrence.
func (p *Projection) Series(st model.SourceType, id string) []model.CalendarEvent {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.seriesLocked(st, id)
}

func (p *Projection) seriesLocked(st model.SourceType, id string) []model.CalendarEvent {
	var out []model.CalendarEvent
	for key, ev := range p.events {
		if key.SourceType == st && key.SourceID == id {
			out = append(out, ev.Clone())
		}
	}
	return out
}

// replaceSeries drops every entry of the record and stores next instead.
func (p *Projection) replaceSeries(st model.SourceType, id string, next []model.CalendarEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.replaceSeriesLocked(st, id, next)
}

func (p *Projection) replaceSeriesLocked(st model.SourceType, id string, next []model.CalendarEvent) {
	for key := range p.events {
		if key.SourceType == st && key.SourceID == id {
			delete(p.events, key)
		}
	}
	if p.events == nil {
		p.events = make(map[model.EventKey]model.CalendarEvent, len(next))
	}
	for _, ev := range next {
		p.events[ev.Key()] = ev.Clone()
	}
}

// swapSeries replaces the record's entries with next only while they still
// equal expected. It reports whether the swap happened.
func (p *Projection) swapSeries(st model.SourceType, id string, expected, next []model.CalendarEvent) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	current := p.seriesLocked(st, id)
	if len(current) != len(expected) {
		return false
	}
	byKey := make(map[model.EventKey]model.CalendarEvent, len(current))
	for _, ev := range current {
		byKey[ev.Key()] = ev
	}
	for _, ev := range expected {
		cur, ok := byKey[ev.Key()]
		if !ok || !cur.Equal(ev) {
			return false
		}
	}
	p.replaceSeriesLocked(st, id, next)
	return true
}
