package aggregate

import (
	"k8s.io/apimachinery/pkg/util/sets"
)

// Change lists bugs that entered and left a category between two consecutive windows
type Change struct {
	Opened []int
	Closed []int
}

// Changes holds the opened/closed series derived from a Result
type Changes struct {
	Windows  []string
	ByWindow map[string]map[string]Change
}

// ComputeChanges compares category membership of every window with the previous
// one. Windows are processed in ascending order; the first window has no
// baseline and reports no changes.
func ComputeChanges(r *Result) *Changes {
	changes := &Changes{ByWindow: make(map[string]map[string]Change, len(r.Windows))}
	categories := r.Categories()

	for i, w := range r.Windows {
		changes.Windows = append(changes.Windows, w.Label)
		byCategory := make(map[string]Change, len(categories))
		changes.ByWindow[w.Label] = byCategory
		if i == 0 {
			continue
		}

		previous := r.Windows[i-1].Label
		for _, category := range categories {
			this := sets.New[int](r.Bugs(w.Label, category)...)
			prev := sets.New[int](r.Bugs(previous, category)...)
			change := Change{
				Opened: sets.List(this.Difference(prev)),
				Closed: sets.List(prev.Difference(this)),
			}
			if len(change.Opened) > 0 || len(change.Closed) > 0 {
				byCategory[category] = change
			}
		}
	}
	return changes
}

// Opened returns bugs that entered the category in the window
func (c *Changes) Opened(label, category string) []int {
	return c.ByWindow[label][category].Opened
}

// Closed returns bugs that left the category in the window
func (c *Changes) Closed(label, category string) []int {
	return c.ByWindow[label][category].Closed
}
