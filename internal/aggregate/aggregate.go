package aggregate

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/bzreport/internal/history"
)

// Classifier decides which category a bug falls into during the window, given
// the reconstructed states of the rule's fields. Returning false excludes the
// bug from the window.
type Classifier func(snap *history.Snapshot, w history.Window, states history.States) (category string, ok bool)

// Rule couples a classifier with the fields it needs reconstructed
type Rule struct {
	Name     string
	Fields   []string
	Classify Classifier
}

// Result holds, for every window label, the bug ids in each category
type Result struct {
	Windows []history.Window
	Members map[string]map[string][]int
}

// Aggregator drives the reconstruction over a sequence of windows
type Aggregator struct {
	// Concurrency bounds the number of bugs classified in parallel, zero means GOMAXPROCS
	Concurrency int
}

// Aggregate classifies every bug in every window using the default Aggregator
func Aggregate(ctx context.Context, snapshots []*history.Snapshot, windows []history.Window, rule Rule) (*Result, error) {
	return (&Aggregator{}).Aggregate(ctx, snapshots, windows, rule)
}

type placement struct {
	window   int
	category string
}

// Aggregate classifies every bug in every window. Bugs are independent so they
// are classified in parallel; the merged result does not depend on scheduling.
func (a *Aggregator) Aggregate(ctx context.Context, snapshots []*history.Snapshot, windows []history.Window, rule Rule) (*Result, error) {
	result := &Result{
		Windows: windows,
		Members: make(map[string]map[string][]int, len(windows)),
	}
	if len(windows) == 0 {
		return result, nil
	}
	if rule.Classify == nil {
		return nil, fmt.Errorf("rule %q has no classifier", rule.Name)
	}

	limit := a.Concurrency
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	perBug := make([][]placement, len(snapshots))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, snap := range snapshots {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			placements, err := classify(snap, windows, rule)
			if err != nil {
				return err
			}
			perBug[i] = placements
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	members := make([]map[string]sets.Set[int], len(windows))
	for i := range members {
		members[i] = map[string]sets.Set[int]{}
	}
	for i, placements := range perBug {
		for _, p := range placements {
			if members[p.window][p.category] == nil {
				members[p.window][p.category] = sets.New[int]()
			}
			members[p.window][p.category].Insert(snapshots[i].ID)
		}
	}

	for i, w := range windows {
		byCategory := make(map[string][]int, len(members[i]))
		for category, ids := range members[i] {
			byCategory[category] = sets.List(ids)
		}
		result.Members[w.Label] = byCategory
	}
	return result, nil
}

func classify(snap *history.Snapshot, windows []history.Window, rule Rule) ([]placement, error) {
	var placements []placement
	for i, w := range windows {
		// The bug did not exist yet
		if !snap.Created.Before(w.End) {
			continue
		}
		states, err := history.Reconstruct(snap, rule.Fields, w)
		if err != nil {
			return nil, fmt.Errorf("cannot reconstruct bug %d in window %s: %w", snap.ID, w.Label, err)
		}
		if category, ok := rule.Classify(snap, w, states); ok {
			placements = append(placements, placement{window: i, category: category})
		}
	}
	return placements, nil
}

// Bugs returns the sorted ids of bugs in the category during the window
func (r *Result) Bugs(label, category string) []int {
	return r.Members[label][category]
}

// Count returns the number of bugs in the category during the window
func (r *Result) Count(label, category string) int {
	return len(r.Members[label][category])
}

// Total returns the number of distinct bugs in any category during the window
func (r *Result) Total(label string) int {
	all := sets.New[int]()
	for _, ids := range r.Members[label] {
		all.Insert(ids...)
	}
	return all.Len()
}

// Categories returns all categories seen in any window, sorted
func (r *Result) Categories() []string {
	categories := sets.New[string]()
	for _, byCategory := range r.Members {
		for category := range byCategory {
			categories.Insert(category)
		}
	}
	return sets.List(categories)
}
