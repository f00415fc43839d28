package history

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
)

// FieldKind tells whether a bug field holds a single value or a set of values
type FieldKind int

const (
	Scalar FieldKind = iota
	Set
)

func (k FieldKind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case Set:
		return "set"
	default:
		return fmt.Sprintf("FieldKind(%d)", int(k))
	}
}

// ParseFieldKind parses the configuration representation of a field kind
func ParseFieldKind(s string) (FieldKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "scalar", "string":
		return Scalar, nil
	case "set", "list":
		return Set, nil
	}
	return Scalar, fmt.Errorf("unknown field kind %q (expected scalar or set)", s)
}

// Schema maps field names to their kinds
type Schema map[string]FieldKind

// Require verifies that all given fields are known to the schema
func (s Schema) Require(fields ...string) error {
	var missing []string
	for _, field := range fields {
		if _, ok := s[field]; !ok {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("fields not present in the field schema: %s", strings.Join(missing, ", "))
	}
	return nil
}

// Value is a value of a bug field, either a scalar or a set of strings
type Value struct {
	Kind   FieldKind
	Scalar string
	Items  sets.Set[string]
}

// ScalarValue creates a scalar value
func ScalarValue(s string) Value {
	return Value{Kind: Scalar, Scalar: s}
}

// SetValue creates a set value holding given items
func SetValue(items ...string) Value {
	return Value{Kind: Set, Items: sets.New[string](items...)}
}

// Has returns true when the value is a scalar equal to item or a set containing item
func (v Value) Has(item string) bool {
	if v.Kind == Set {
		return v.Items.Has(item)
	}
	return v.Scalar == item
}

// HasAny returns true when Has is true for at least one of the items
func (v Value) HasAny(items ...string) bool {
	for _, item := range items {
		if v.Has(item) {
			return true
		}
	}
	return false
}

// In returns true when a scalar value is one of the candidates
func (v Value) In(candidates ...string) bool {
	if v.Kind == Set {
		return false
	}
	for _, c := range candidates {
		if v.Scalar == c {
			return true
		}
	}
	return false
}

// List returns sorted set items, or a single-item slice for a nonempty scalar
func (v Value) List() []string {
	if v.Kind == Set {
		return sets.List(v.Items)
	}
	if v.Scalar == "" {
		return nil
	}
	return []string{v.Scalar}
}

func (v Value) String() string {
	if v.Kind == Set {
		return strings.Join(sets.List(v.Items), ", ")
	}
	return v.Scalar
}

// Equal compares two values by kind and content
func (v Value) Equal(o Value) bool {
	if v.Kind != o.Kind {
		return false
	}
	if v.Kind == Set {
		return v.Items.Equal(o.Items)
	}
	return v.Scalar == o.Scalar
}

func (v Value) clone() Value {
	if v.Kind == Set {
		items := sets.New[string]()
		if v.Items != nil {
			items = v.Items.Clone()
		}
		return Value{Kind: Set, Items: items}
	}
	return v
}

// ParseList splits a serialized multi-valued delta ("a, b, c") into its items
func ParseList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// ChangeEvent is a single field change from the bug's audit log
type ChangeEvent struct {
	When    time.Time
	Field   string
	Removed string
	Added   string
	Author  string
}

// Comment is a bug comment
type Comment struct {
	Creator string
	Created time.Time
	Text    string
}

// Snapshot holds the current state of a bug together with its full history
type Snapshot struct {
	ID       int
	Created  time.Time
	Fields   map[string]Value
	History  []ChangeEvent
	Comments []Comment
}

// SortHistory orders the history chronologically, keeping the log order of simultaneous events
func (s *Snapshot) SortHistory() {
	sort.SliceStable(s.History, func(i, j int) bool {
		return s.History[i].When.Before(s.History[j].When)
	})
}

// Field returns the current value of the field
func (s *Snapshot) Field(name string) (Value, error) {
	value, ok := s.Fields[name]
	if !ok {
		return Value{}, &MalformedSnapshotError{BugID: s.ID, Field: name, Reason: "field missing on the bug"}
	}
	return value, nil
}

// Window is a half-open time interval [Start, End)
type Window struct {
	Start time.Time
	End   time.Time
	Label string
}

// Contains returns true when t falls into the window
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return fmt.Sprintf("%s [%s, %s)", w.Label, w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
}

// ValidateWindows checks that windows are ascending, non-empty and adjacent
func ValidateWindows(windows []Window) error {
	labels := sets.New[string]()
	for i, w := range windows {
		if !w.Start.Before(w.End) {
			return fmt.Errorf("window %s: start must be before end", w.Label)
		}
		if labels.Has(w.Label) {
			return fmt.Errorf("window %s: duplicate label", w.Label)
		}
		labels.Insert(w.Label)
		if i == 0 {
			continue
		}
		if prev := windows[i-1]; !prev.End.Equal(w.Start) {
			return fmt.Errorf("window %s does not start where window %s ends (%s != %s)", w.Label, prev.Label, w.Start.Format(time.RFC3339), prev.End.Format(time.RFC3339))
		}
	}
	return nil
}

// FieldState is the value of a field immediately before the window starts (Old)
// and at the end of the window (New)
type FieldState struct {
	Old Value
	New Value
}

// Changed returns true when the field value differs between window boundaries
func (s FieldState) Changed() bool {
	return !s.Old.Equal(s.New)
}

// States maps field names to their reconstructed states
type States map[string]FieldState

// Old returns the value of the field before the window
func (s States) Old(field string) Value {
	return s[field].Old
}

// New returns the value of the field at the end of the window
func (s States) New(field string) Value {
	return s[field].New
}
