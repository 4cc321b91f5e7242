package telemetry

import (
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/stat"
)

// BookmarkType identifies the type of bookmark.
type BookmarkType string

const (
	BookmarkExtinction      BookmarkType = "extinction"
	BookmarkPopulationCrash BookmarkType = "population_crash"
	BookmarkPredationSurge  BookmarkType = "predation_surge"
	BookmarkCeilingReached  BookmarkType = "ceiling_reached"
	BookmarkStableEcosystem BookmarkType = "stable_ecosystem"
)

// Bookmark represents an automatically triggered bookmark.
type Bookmark struct {
	Type        BookmarkType `csv:"type"`
	Tick        int64        `csv:"tick"`
	Population  string       `csv:"population"`
	Description string       `csv:"description"`
}

// LogBookmark logs the bookmark using slog.
func (b Bookmark) LogBookmark() {
	slog.Info("bookmark",
		"type", string(b.Type),
		"tick", b.Tick,
		"population", b.Population,
		"description", b.Description,
	)
}

// BookmarkDetector detects interesting moments in the simulation.
type BookmarkDetector struct {
	// Rolling history (circular buffer)
	history     []WindowStats
	historySize int
	historyIdx  int
	historyFull bool

	// Per-population state
	lastCount map[string]int
	peak      map[string]int

	stableWindowsCount int
}

// NewBookmarkDetector creates a detector with the given history size.
func NewBookmarkDetector(historySize int) *BookmarkDetector {
	if historySize < 5 {
		historySize = 5 // minimum for stable ecosystem detection
	}
	return &BookmarkDetector{
		history:     make([]WindowStats, historySize),
		historySize: historySize,
		lastCount:   make(map[string]int),
		peak:        make(map[string]int),
	}
}

// Check analyzes the latest window and returns any triggered bookmarks.
func (bd *BookmarkDetector) Check(stats WindowStats, pops []PopulationWindow) []Bookmark {
	var bookmarks []Bookmark

	for _, p := range pops {
		if b := bd.checkExtinction(stats, p); b != nil {
			bookmarks = append(bookmarks, *b)
		}
		if b := bd.checkCrash(stats, p); b != nil {
			bookmarks = append(bookmarks, *b)
		}
		bd.lastCount[p.Population] = p.Count
		if p.Count > bd.peak[p.Population] {
			bd.peak[p.Population] = p.Count
		}
	}

	if bd.historyFull || bd.historyIdx > 0 {
		if b := bd.checkPredationSurge(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
		if b := bd.checkCeiling(stats); b != nil {
			bookmarks = append(bookmarks, *b)
		}
	}
	bd.addToHistory(stats)

	if b := bd.checkStableEcosystem(stats); b != nil {
		bookmarks = append(bookmarks, *b)
	}
	return bookmarks
}

func (bd *BookmarkDetector) addToHistory(stats WindowStats) {
	bd.history[bd.historyIdx] = stats
	bd.historyIdx = (bd.historyIdx + 1) % bd.historySize
	if bd.historyIdx == 0 {
		bd.historyFull = true
	}
}

// recent returns up to n most recent windows, oldest first.
func (bd *BookmarkDetector) recent(n int) []WindowStats {
	size := bd.historyIdx
	if bd.historyFull {
		size = bd.historySize
	}
	n = min(n, size)
	out := make([]WindowStats, 0, n)
	for i := n; i > 0; i-- {
		idx := (bd.historyIdx - i + bd.historySize) % bd.historySize
		out = append(out, bd.history[idx])
	}
	return out
}

func (bd *BookmarkDetector) previous() WindowStats {
	return bd.recent(1)[0]
}

func (bd *BookmarkDetector) checkExtinction(stats WindowStats, p PopulationWindow) *Bookmark {
	last, seen := bd.lastCount[p.Population]
	if !seen || last == 0 || p.Count > 0 {
		return nil
	}
	return &Bookmark{
		Type:        BookmarkExtinction,
		Tick:        stats.WindowEndTick,
		Population:  p.Population,
		Description: fmt.Sprintf("Population %s died out (was %d)", p.Population, last),
	}
}

func (bd *BookmarkDetector) checkCrash(stats WindowStats, p PopulationWindow) *Bookmark {
	peak := bd.peak[p.Population]
	if peak == 0 || p.Count == 0 {
		return nil
	}
	drop := 1.0 - float64(p.Count)/float64(peak)
	if drop > 0.30 && p.Count < peak-10 {
		// Reset peak after crash
		bd.peak[p.Population] = p.Count
		return &Bookmark{
			Type:        BookmarkPopulationCrash,
			Tick:        stats.WindowEndTick,
			Population:  p.Population,
			Description: fmt.Sprintf("Population %s crashed %.0f%% from peak %d to %d", p.Population, drop*100, peak, p.Count),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkPredationSurge(stats WindowStats) *Bookmark {
	history := bd.recent(bd.historySize)
	if len(history) < 3 {
		return nil
	}
	var total int64
	for _, h := range history {
		total += h.DeathsPredation
	}
	avg := float64(total) / float64(len(history))
	if avg == 0 {
		return nil
	}
	cur := float64(stats.DeathsPredation)
	if cur > avg*2.0 && stats.DeathsPredation >= 5 {
		return &Bookmark{
			Type:        BookmarkPredationSurge,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("%d predation deaths is %.1fx average (%.1f)", stats.DeathsPredation, cur/avg, avg),
		}
	}
	return nil
}

func (bd *BookmarkDetector) checkCeiling(stats WindowStats) *Bookmark {
	if stats.BirthsBlocked == 0 || bd.previous().BirthsBlocked > 0 {
		return nil
	}
	return &Bookmark{
		Type:        BookmarkCeilingReached,
		Tick:        stats.WindowEndTick,
		Description: fmt.Sprintf("Population ceiling reached at %d organisms, %d births blocked", stats.Organisms, stats.BirthsBlocked),
	}
}

func (bd *BookmarkDetector) checkStableEcosystem(stats WindowStats) *Bookmark {
	// Need at least two populations and a non-trivial census
	if stats.Populations < 2 || stats.Organisms < 10 {
		bd.stableWindowsCount = 0
		return nil
	}

	history := bd.recent(4)
	if len(history) < 4 {
		return nil
	}
	counts := make([]float64, len(history))
	for i, h := range history {
		counts[i] = float64(h.Organisms)
	}
	mean, variance := stat.PopMeanVariance(counts, nil)

	// CV^2 < 0.04 means CV < 0.2
	if mean > 0 && variance/(mean*mean) < 0.04 {
		bd.stableWindowsCount++
	} else {
		bd.stableWindowsCount = 0
	}

	if bd.stableWindowsCount == 5 { // trigger exactly once at 5 windows
		return &Bookmark{
			Type:        BookmarkStableEcosystem,
			Tick:        stats.WindowEndTick,
			Description: fmt.Sprintf("Stable ecosystem with %d organisms in %d populations over 5+ windows", stats.Organisms, stats.Populations),
		}
	}
	return nil
}
