package availability

import (
	"sort"

	"github.com/hackgods/clinic-scheduling/internal/apperr"
	"github.com/hackgods/clinic-scheduling/internal/timewindow"
)

// ValidateBlocks checks a replacement set before anything is written: days in
// range, start before end within one day, and no two active blocks on the same
// day overlapping.
func ValidateBlocks(blocks []Block) error {
	const op = "availability.ValidateBlocks"

	byDay := make(map[int][]timewindow.Window)
	for _, b := range blocks {
		if b.DayOfWeek < 0 || b.DayOfWeek > 6 {
			return apperr.New(apperr.KindInvalidFormat, op, "day_of_week %d out of range 0..6", b.DayOfWeek)
		}
		w := b.Window()
		if !w.Valid() {
			return apperr.New(apperr.KindInvalidFormat, op, "block %s on day %d must start before it ends within the day",
				w, b.DayOfWeek)
		}
		if b.IsActive {
			byDay[b.DayOfWeek] = append(byDay[b.DayOfWeek], w)
		}
	}

	for day, windows := range byDay {
		sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })
		for i := 1; i < len(windows); i++ {
			if windows[i-1].Overlaps(windows[i]) {
				return apperr.New(apperr.KindOverlappingAvailability, op, "blocks %s and %s overlap on day %d",
					windows[i-1], windows[i], day)
			}
		}
	}
	return nil
}

func sortBlocks(blocks []Block) {
	sort.SliceStable(blocks, func(i, j int) bool {
		if blocks[i].DayOfWeek != blocks[j].DayOfWeek {
			return blocks[i].DayOfWeek < blocks[j].DayOfWeek
		}
		return blocks[i].StartMinute < blocks[j].StartMinute
	})
}
