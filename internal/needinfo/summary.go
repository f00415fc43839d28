package needinfo

import (
	"sort"
	"time"

	"github.com/samber/lo"
)

const week = 7 * 24 * time.Hour

// Bucket classifies a request by how long it took to answer
type Bucket string

const (
	AnsweredWithinWeek     Bucket = "Answered 0..1 week"
	AnsweredWithinTwoWeeks Bucket = "Answered 1..2 weeks"
	AnsweredLater          Bucket = "Answered >2 weeks"
	Unanswered             Bucket = "Unanswered"
)

// Buckets lists all buckets from the fastest answers
var Buckets = []Bucket{AnsweredWithinWeek, AnsweredWithinTwoWeeks, AnsweredLater, Unanswered}

// Bucket returns the bucket of the request
func (i Interval) Bucket() Bucket {
	switch {
	case i.Open():
		return Unanswered
	case i.Duration() <= week:
		return AnsweredWithinWeek
	case i.Duration() <= 2*week:
		return AnsweredWithinTwoWeeks
	default:
		return AnsweredLater
	}
}

// Stats summarizes how needinfo requests were answered
type Stats struct {
	Requested        int
	AnsweredWithin1W int
	AnsweredWithin2W int
	AnsweredLater    int
	Unanswered       int
	Reactions        int
}

// Answered returns the number of cleared requests
func (s Stats) Answered() int {
	return s.Requested - s.Unanswered
}

// ReactionShare returns the share of answered requests followed by a reaction.
// The second return value is false when nothing was answered.
func (s Stats) ReactionShare() (float64, bool) {
	if s.Answered() == 0 {
		return 0, false
	}
	return float64(s.Reactions) / float64(s.Answered()), true
}

// Summarize buckets the intervals by the time it took to clear them
func Summarize(intervals []Interval) Stats {
	counts := lo.CountValuesBy(intervals, Interval.Bucket)
	return Stats{
		Requested:        len(intervals),
		AnsweredWithin1W: counts[AnsweredWithinWeek],
		AnsweredWithin2W: counts[AnsweredWithinTwoWeeks],
		AnsweredLater:    counts[AnsweredLater],
		Unanswered:       counts[Unanswered],
		Reactions: lo.CountBy(intervals, func(i Interval) bool {
			return !i.Open() && i.Reaction
		}),
	}
}

// GroupBy splits intervals into groups by the key function, keeping their order
func GroupBy[K comparable](intervals []Interval, key func(Interval) K) map[K][]Interval {
	return lo.GroupBy(intervals, key)
}

// BugIDs returns the bugs of the intervals, sorted and unique
func BugIDs(intervals []Interval) []int {
	ids := lo.Uniq(lo.Map(intervals, func(i Interval, _ int) int { return i.BugID }))
	sort.Ints(ids)
	return ids
}
