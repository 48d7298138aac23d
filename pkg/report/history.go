package report

import (
	"context"
	"sync"

	"github.com/lywsd02/clock-sync/pkg/cache"
	"github.com/lywsd02/clock-sync/pkg/clocksync"
)

// History records outcomes in an OutcomeCache and, if filename is set, saves the cache after each
// outcome. History is safe for concurrent use.
type History struct {
	Cache    *cache.OutcomeCache
	filename string
	lock     sync.Mutex
}

// NewHistory loads the cache stored in filename, starting an empty one holding up to maxEntries
// devices if the file cannot be read. An empty filename keeps the history in memory only.
func NewHistory(filename string, maxEntries int) *History {
	h := &History{filename: filename}
	if filename != "" {
		if c, err := cache.ImportFromFile(filename); err == nil {
			h.Cache = c
		}
	}
	if h.Cache == nil {
		h.Cache = cache.New(maxEntries)
	}
	return h
}

func (h *History) Report(ctx context.Context, outcome *clocksync.Outcome) error {
	if err := h.Cache.Report(ctx, outcome); err != nil {
		return err
	}
	if h.filename == "" {
		return nil
	}
	h.lock.Lock()
	defer h.lock.Unlock()
	return h.Cache.ExportToFile(h.filename)
}
