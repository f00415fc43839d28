package needinfo

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"

	"github.com/petr-muller/bzreport/internal/history"
)

const (
	// FlagField is the set-valued bug field holding the flags
	FlagField = "flagtypes.name"

	// DefaultCommentTolerance is the maximum distance between a needinfo request and the comment explaining it
	DefaultCommentTolerance = 5 * time.Second
	// DefaultFollowupLimit is how long after a cleared request a reaction is still attributed to it
	DefaultFollowupLimit = time.Hour
	// DefaultTolerance allows reactions recorded slightly before the request is cleared
	DefaultTolerance = 5 * time.Second
)

var flagPattern = regexp.MustCompile(`^needinfo\?\(([^)]*)\)$`)

// ParseFlag extracts the requestee from a single flag item like "needinfo?(alice@example.com)"
func ParseFlag(item string) (string, bool) {
	match := flagPattern.FindStringSubmatch(strings.TrimSpace(item))
	if match == nil || match[1] == "" {
		return "", false
	}
	return match[1], true
}

// Interval is a period during which a needinfo request for the requestee was active
type Interval struct {
	BugID     int
	Requester string
	Requestee string
	Start     time.Time
	// End is zero while the request is still open
	End time.Time
	// Reaction is set when a reaction field changed shortly after the request was cleared
	Reaction bool
}

// Open returns true when the request was not cleared yet
func (i Interval) Open() bool {
	return i.End.IsZero()
}

// Duration returns how long the request was open, or zero for open requests
func (i Interval) Duration() time.Duration {
	if i.Open() {
		return 0
	}
	return i.End.Sub(i.Start)
}

// Tracker extracts needinfo request intervals from bug histories
type Tracker struct {
	// Creator limits tracked requests to the ones set by this account, empty means anyone
	Creator string
	// CommentMarker limits tracked requests to the ones accompanied by a comment containing the marker
	CommentMarker    string
	CommentTolerance time.Duration

	// ReactionFields enables the reaction check for intervals that were cleared
	ReactionFields sets.Set[string]
	FollowupLimit  time.Duration
	Tolerance      time.Duration
}

// NewTracker creates a Tracker with default tolerances
func NewTracker(creator, marker string, reactionFields ...string) *Tracker {
	return &Tracker{
		Creator:          creator,
		CommentMarker:    marker,
		CommentTolerance: DefaultCommentTolerance,
		ReactionFields:   sets.New[string](reactionFields...),
		FollowupLimit:    DefaultFollowupLimit,
		Tolerance:        DefaultTolerance,
	}
}

func (t *Tracker) validate() error {
	if t.CommentTolerance < 0 || t.FollowupLimit < 0 || t.Tolerance < 0 {
		return fmt.Errorf("needinfo tracker tolerances must not be negative")
	}
	return nil
}

// Track returns intervals of requests set during the window. The whole history
// is processed regardless of the window because clearing events, comments and
// reactions may lie outside of it.
func (t *Tracker) Track(snap *history.Snapshot, w history.Window) ([]Interval, error) {
	all, err := t.Intervals(snap)
	if err != nil {
		return nil, err
	}
	return InWindow(all, w), nil
}

// InWindow returns the intervals of requests set during the window
func InWindow(intervals []Interval, w history.Window) []Interval {
	var inWindow []Interval
	for _, interval := range intervals {
		if w.Contains(interval.Start) {
			inWindow = append(inWindow, interval)
		}
	}
	return inWindow
}

// Intervals returns all request intervals found in the bug history, ordered by
// start and requestee
func (t *Tracker) Intervals(snap *history.Snapshot) ([]Interval, error) {
	if err := t.validate(); err != nil {
		return nil, err
	}

	open := map[string]int{}
	var intervals []Interval

	for _, event := range snap.History {
		if event.Field != FlagField {
			continue
		}

		// A re-request shows up as a single change removing and adding the same
		// flag, so the old request has to be closed before the new one opens.
		for _, item := range history.ParseList(event.Removed) {
			requestee, ok := ParseFlag(item)
			if !ok {
				continue
			}
			idx, isOpen := open[requestee]
			if !isOpen {
				// Opened before the history starts or by someone we do not track
				continue
			}
			delete(open, requestee)
			intervals[idx].End = event.When
			if t.ReactionFields.Len() > 0 {
				intervals[idx].Reaction = t.reacted(snap.History, event.When)
			}
		}

		for _, item := range history.ParseList(event.Added) {
			requestee, ok := ParseFlag(item)
			if !ok {
				continue
			}
			if _, isOpen := open[requestee]; isOpen {
				continue
			}
			if t.Creator != "" && event.Author != t.Creator {
				continue
			}
			if t.CommentMarker != "" && !t.explained(snap.Comments, event.When) {
				continue
			}
			open[requestee] = len(intervals)
			intervals = append(intervals, Interval{
				BugID:     snap.ID,
				Requester: event.Author,
				Requestee: requestee,
				Start:     event.When,
			})
		}
	}

	var wellFormed []Interval
	for _, interval := range intervals {
		if !interval.Open() && !interval.Start.Before(interval.End) {
			continue
		}
		wellFormed = append(wellFormed, interval)
	}

	sort.SliceStable(wellFormed, func(i, j int) bool {
		if !wellFormed[i].Start.Equal(wellFormed[j].Start) {
			return wellFormed[i].Start.Before(wellFormed[j].Start)
		}
		return wellFormed[i].Requestee < wellFormed[j].Requestee
	})
	return wellFormed, nil
}

// explained returns true when exactly one comment by the creator carrying the
// marker was posted together with the request. No or several such comments
// make the attribution ambiguous.
func (t *Tracker) explained(comments []history.Comment, when time.Time) bool {
	matching := 0
	for _, comment := range comments {
		if t.Creator != "" && comment.Creator != t.Creator {
			continue
		}
		if !strings.Contains(comment.Text, t.CommentMarker) {
			continue
		}
		if abs(comment.Created.Sub(when)) > t.CommentTolerance {
			continue
		}
		matching++
	}
	return matching == 1
}

func (t *Tracker) reacted(events []history.ChangeEvent, cleared time.Time) bool {
	from := cleared.Add(-t.Tolerance)
	until := cleared.Add(t.FollowupLimit)
	for _, event := range events {
		if !t.ReactionFields.Has(event.Field) {
			continue
		}
		if event.When.Before(from) {
			continue
		}
		if event.When.After(until) {
			// History is chronological
			return false
		}
		return true
	}
	return false
}

func abs(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
