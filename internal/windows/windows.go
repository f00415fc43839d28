package windows

import (
	"fmt"
	"strconv"
	"time"

	"github.com/petr-muller/bzreport/internal/history"
	"github.com/petr-muller/bzreport/internal/productdetails"
)

const week = 7 * 24 * time.Hour

func midnight(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PreviousSunday returns the midnight of the last Sunday strictly before the day of t
func PreviousSunday(t time.Time) time.Time {
	day := midnight(t)
	back := int(day.Weekday())
	if back == 0 {
		back = 7
	}
	return day.AddDate(0, 0, -back)
}

func weekWindow(end time.Time) history.Window {
	return history.Window{Start: end.Add(-week), End: end, Label: end.Format(time.DateOnly)}
}

// LastWeeks returns n completed weeks before now, each ending on a Sunday and
// labeled by its end date, in ascending order
func LastWeeks(now time.Time, n int) []history.Window {
	if n <= 0 {
		return nil
	}
	windows := make([]history.Window, n)
	end := PreviousSunday(now)
	for i := n - 1; i >= 0; i-- {
		windows[i] = weekWindow(end)
		end = end.Add(-week)
	}
	return windows
}

// Weekly returns weeks ending on Sundays covering [from, until)
func Weekly(from, until time.Time) ([]history.Window, error) {
	if !from.Before(until) {
		return nil, fmt.Errorf("from (%s) must be before until (%s)", from.Format(time.DateOnly), until.Format(time.DateOnly))
	}
	start := midnight(from)
	start = start.AddDate(0, 0, -int(start.Weekday()))

	var windows []history.Window
	for end := start.Add(week); start.Before(until); start, end = end, end.Add(week) {
		windows = append(windows, weekWindow(end))
	}
	return windows, nil
}

// ReleaseCycles returns one window per major release from minVersion on, each
// lasting until the next release. The last window ends tomorrow so that today
// is included.
func ReleaseCycles(releases []productdetails.Release, minVersion int, now time.Time) ([]history.Window, error) {
	var selected []productdetails.Release
	for _, release := range releases {
		if release.Version >= minVersion && release.Date.Before(now) {
			selected = append(selected, release)
		}
	}
	if len(selected) == 0 {
		return nil, fmt.Errorf("no release with version %d or newer", minVersion)
	}

	windows := make([]history.Window, 0, len(selected))
	for i, release := range selected {
		end := midnight(now).AddDate(0, 0, 1)
		if i < len(selected)-1 {
			end = midnight(selected[i+1].Date)
		}
		windows = append(windows, history.Window{
			Start: midnight(release.Date),
			End:   end,
			Label: strconv.Itoa(release.Version),
		})
	}
	return windows, history.ValidateWindows(windows)
}
