package scheduling

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/RoaringBitmap/roaring"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

// Availability answers and mutates the open appointment slots.
type Availability interface {
	// Slots lists the open times of date in ascending order; ok is false
	// when the date has none.
	Slots(ctx context.Context, date string) (times []string, ok bool)
	IsAvailable(ctx context.Context, date, clock string) bool
	// Reserve removes the slot if it is still open and reports whether it did.
	Reserve(ctx context.Context, date, clock string) bool
}

// MemoryAvailability keeps one bitmap of minutes-since-midnight per date.
type MemoryAvailability struct {
	mu   sync.Mutex
	days map[string]*roaring.Bitmap
}

// NewMemoryAvailability builds a store from date -> "HH:mm" lists. Entries
// that do not parse are rejected.
func NewMemoryAvailability(schedule map[string][]string) (*MemoryAvailability, error) {
	a := &MemoryAvailability{days: make(map[string]*roaring.Bitmap, len(schedule))}
	for date, times := range schedule {
		day, err := NormalizeDate(date)
		if err != nil {
			return nil, err
		}
		bm, ok := a.days[day]
		if !ok {
			bm = roaring.New()
			a.days[day] = bm
		}
		for _, t := range times {
			m, err := parseMinutes(t)
			if err != nil {
				return nil, fmt.Errorf("schedule %s: %w", day, err)
			}
			bm.Add(m)
		}
	}
	return a, nil
}

// DefaultSchedule is the mock calendar served when nothing else is wired.
func DefaultSchedule() map[string][]string {
	return map[string][]string{
		"2024-12-20": {"08:00", "09:00", "10:00", "14:00", "15:00", "16:00"},
		"2024-12-21": {"08:00", "09:00", "10:00", "11:00", "14:00", "15:00", "16:00", "17:00"},
		"2024-12-22": {"08:00", "09:00", "10:00", "14:00", "15:00"},
		"2024-12-23": {"08:00", "09:00", "10:00", "11:00", "14:00", "15:00", "16:00"},
		"2024-12-24": {"08:00", "09:00", "10:00"},
	}
}

func (a *MemoryAvailability) Slots(_ context.Context, date string) ([]string, bool) {
	day, err := NormalizeDate(date)
	if err != nil {
		return nil, false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	bm, ok := a.days[day]
	if !ok || bm.IsEmpty() {
		return nil, false
	}
	minutes := bm.ToArray()
	out := make([]string, 0, len(minutes))
	for _, m := range minutes {
		out = append(out, formatMinutes(m))
	}
	return out, true
}

func (a *MemoryAvailability) IsAvailable(_ context.Context, date, clock string) bool {
	day, m, err := normalizeSlot(date, clock)
	if err != nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	bm, ok := a.days[day]
	return ok && bm.Contains(m)
}

func (a *MemoryAvailability) Reserve(_ context.Context, date, clock string) bool {
	day, m, err := normalizeSlot(date, clock)
	if err != nil {
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	bm, ok := a.days[day]
	if !ok {
		return false
	}
	return bm.CheckedRemove(m)
}

// NormalizeDate accepts YYYY-MM-DD and returns it zero-padded.
func NormalizeDate(date string) (string, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t.Format(DateLayout), nil
}

// NormalizeTime accepts H:mm or HH:mm and returns HH:mm.
func NormalizeTime(clock string) (string, error) {
	t, err := time.Parse(TimeLayout, clock)
	if err != nil {
		return "", fmt.Errorf("invalid time %q: %w", clock, err)
	}
	return t.Format(TimeLayout), nil
}

func normalizeSlot(date, clock string) (string, uint32, error) {
	day, err := NormalizeDate(date)
	if err != nil {
		return "", 0, err
	}
	m, err := parseMinutes(clock)
	if err != nil {
		return "", 0, err
	}
	return day, m, nil
}

func parseMinutes(clock string) (uint32, error) {
	t, err := time.Parse(TimeLayout, clock)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", clock, err)
	}
	return uint32(t.Hour()*60 + t.Minute()), nil
}

func formatMinutes(m uint32) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}

var _ Availability = (*MemoryAvailability)(nil)
