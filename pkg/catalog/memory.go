package catalog

import (
	"context"
	"sort"
	"sync"
)

// Memory is a catalog held in memory.
type Memory struct {
	mu  sync.RWMutex
	obs map[string]Observation
}

func NewMemory(obs ...Observation) *Memory {
	m := &Memory{obs: map[string]Observation{}}
	m.Add(context.Background(), obs...)
	return m
}

func (m *Memory) Find(_ context.Context, obsID string) (Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.obs[obsID]
	if !ok {
		return Observation{}, ErrNotFound(obsID)
	}
	return o, nil
}

func (m *Memory) sorted() []Observation {
	all := make([]Observation, 0, len(m.obs))
	for _, o := range m.obs {
		all = append(all, o)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ObsID < all[j].ObsID })
	return all
}

func (m *Memory) Query(_ context.Context, opts QueryOptions) (int, []Observation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var matches []Observation
	for _, o := range m.sorted() {
		if opts.matches(o) {
			matches = append(matches, o)
		}
	}
	total := len(matches)
	if opts.Offset >= total {
		return total, []Observation{}, nil
	}
	matches = matches[opts.Offset:]
	if opts.MaxRec > 0 && len(matches) > opts.MaxRec {
		matches = matches[:opts.MaxRec]
	}
	return total, matches, nil
}

func (m *Memory) Summary(_ context.Context) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	counts := map[Summary]int{}
	for _, o := range m.obs {
		counts[Summary{Collection: o.Collection, Facility: o.Facility, Instrument: o.Instrument}]++
	}
	out := make([]Summary, 0, len(counts))
	for s, n := range counts {
		s.Count = n
		out = append(out, s)
	}
	sortSummaries(out)
	return out, nil
}

func sortSummaries(s []Summary) {
	sort.Slice(s, func(i, j int) bool {
		a, b := s[i], s[j]
		if a.Collection != b.Collection {
			return a.Collection < b.Collection
		}
		if a.Facility != b.Facility {
			return a.Facility < b.Facility
		}
		return a.Instrument < b.Instrument
	})
}

func (m *Memory) Add(_ context.Context, obs ...Observation) error {
	for _, o := range obs {
		if err := validate(o); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range obs {
		m.obs[o.ObsID] = o
	}
	return nil
}
