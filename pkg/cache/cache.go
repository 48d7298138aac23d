package cache

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/lywsd02/clock-sync/pkg/clocksync"
)

// DefaultHistoryLength is the number of outcomes kept per device when MaxHistory is zero.
const DefaultHistoryLength = 10

type OutcomeCache struct {
	MaxEntries int                             `json:"max_entries"`
	MaxHistory int                             `json:"max_history"`
	Devices    map[string][]*clocksync.Outcome `json:"devices"`
	lock       sync.Mutex
}

// New returns an OutcomeCache that holds history for up to maxEntries devices. When the cache is
// full, the device whose most recent outcome is oldest is evicted.
//
// Set maxEntries to zero for an unbounded cache.
func New(maxEntries int) *OutcomeCache {
	return &OutcomeCache{
		MaxEntries: maxEntries,
		MaxHistory: DefaultHistoryLength,
		Devices:    make(map[string][]*clocksync.Outcome),
	}
}

// Import an OutcomeCache using data in r.
// The data should previously have been generated using [OutcomeCache.Export].
func Import(r io.Reader) (*OutcomeCache, error) {
	var cache OutcomeCache
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&cache); err != nil {
		return nil, err
	}
	if cache.Devices == nil {
		cache.Devices = make(map[string][]*clocksync.Outcome)
	}
	return &cache, nil
}

// ImportFromFile reads an OutcomeCache from disk.
func ImportFromFile(filename string) (*OutcomeCache, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	return Import(file)
}

// Export writes a serialized OutcomeCache to w.
func (c *OutcomeCache) Export(w io.Writer) error {
	c.lock.Lock()
	defer c.lock.Unlock()

	return json.NewEncoder(w).Encode(c)
}

// ExportToFile writes an OutcomeCache to disk.
func (c *OutcomeCache) ExportToFile(filename string) error {
	file, err := os.OpenFile(filename, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	return c.Export(file)
}

// Add appends outcome to the history of its device.
func (c *OutcomeCache) Add(outcome *clocksync.Outcome) {
	c.lock.Lock()
	defer c.lock.Unlock()

	address := outcome.Address
	history := append(c.Devices[address], outcome)
	limit := c.MaxHistory
	if limit <= 0 {
		limit = DefaultHistoryLength
	}
	if len(history) > limit {
		history = history[len(history)-limit:]
	}
	c.Devices[address] = history

	if c.MaxEntries > 0 && len(c.Devices) > c.MaxEntries {
		oldest := address
		oldestTime := time.Now()
		for a, h := range c.Devices {
			// An imported file may hold devices without outcomes; those go first.
			if len(h) == 0 || h[len(h)-1] == nil {
				oldest = a
				break
			}
			// Outcomes are appended in completion order, so the last one is the most recent.
			if last := h[len(h)-1].Finished; last.Before(oldestTime) {
				oldest = a
				oldestTime = last
			}
		}
		delete(c.Devices, oldest)
	}
}

// Report implements clocksync.Reporter by recording outcome.
func (c *OutcomeCache) Report(_ context.Context, outcome *clocksync.Outcome) error {
	c.Add(outcome)
	return nil
}

// History returns a copy of the outcomes recorded for address, oldest first.
func (c *OutcomeCache) History(address string) []*clocksync.Outcome {
	c.lock.Lock()
	defer c.lock.Unlock()

	return append([]*clocksync.Outcome(nil), c.Devices[address]...)
}

// Last returns the most recent outcome for address.
func (c *OutcomeCache) Last(address string) (*clocksync.Outcome, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	history := c.Devices[address]
	if len(history) == 0 {
		return nil, false
	}
	return history[len(history)-1], true
}

// LastSuccess returns the most recent successful outcome for address.
func (c *OutcomeCache) LastSuccess(address string) (*clocksync.Outcome, bool) {
	c.lock.Lock()
	defer c.lock.Unlock()

	history := c.Devices[address]
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Success {
			return history[i], true
		}
	}
	return nil, false
}

// Addresses returns the devices with recorded history, sorted.
func (c *OutcomeCache) Addresses() []string {
	c.lock.Lock()
	defer c.lock.Unlock()

	addresses := make([]string, 0, len(c.Devices))
	for a := range c.Devices {
		addresses = append(addresses, a)
	}
	sort.Strings(addresses)
	return addresses
}
