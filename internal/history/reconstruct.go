package history

import (
	"time"

	"k8s.io/apimachinery/pkg/util/sets"
)

// Reconstruct computes the state of given fields at the boundaries of the window.
// Old is the value immediately before w.Start, New is the value immediately before
// w.End. The snapshot history must be in chronological order (see SortHistory).
// The snapshot is never modified.
func Reconstruct(snap *Snapshot, fields []string, w Window) (States, error) {
	states := make(States, len(fields))
	for _, field := range fields {
		current, err := snap.Field(field)
		if err != nil {
			return nil, err
		}

		switch current.Kind {
		case Scalar:
			states[field] = reconstructScalar(snap.History, field, current, w)
		case Set:
			states[field] = reconstructSet(snap.History, field, current, w)
		default:
			return nil, &MalformedSnapshotError{BugID: snap.ID, Field: field, Reason: "unknown field kind " + current.Kind.String()}
		}
	}
	return states, nil
}

// ValueAt returns the value the field had immediately before the instant t
func ValueAt(snap *Snapshot, field string, t time.Time) (Value, error) {
	states, err := Reconstruct(snap, []string{field}, Window{Start: t, End: t})
	if err != nil {
		return Value{}, err
	}
	return states[field].Old, nil
}

// reconstructScalar scans the changes forward. Changes are deltas, so the only
// reliable anchor is the current value, used when no change reveals the value.
func reconstructScalar(events []ChangeEvent, field string, current Value, w Window) FieldState {
	var before, after string
	var haveOld, haveNew bool

	for _, event := range events {
		if event.Field != field {
			continue
		}

		switch {
		case event.When.Before(w.Start):
			before, haveOld = event.Added, true
		case event.When.Before(w.End):
			if !haveOld {
				before, haveOld = event.Removed, true
			}
			after, haveNew = event.Added, true
		default:
			// The first change at or after the end reveals what the value was
			// throughout the rest of the window.
			if !haveOld {
				before, haveOld = event.Removed, true
			}
			if !haveNew {
				after, haveNew = event.Removed, true
			}
		}
	}

	if !haveOld {
		before = current.Scalar
	}
	if !haveNew {
		after = current.Scalar
	}
	return FieldState{Old: ScalarValue(before), New: ScalarValue(after)}
}

// reconstructSet unwinds the deltas backward from the current set, the only
// known fixed point of a multi-valued field
func reconstructSet(events []ChangeEvent, field string, current Value, w Window) FieldState {
	running := current.clone()
	var after Value
	var haveNew bool

	for i := len(events) - 1; i >= 0; i-- {
		event := events[i]
		if event.Field != field {
			continue
		}
		if event.When.Before(w.Start) {
			break
		}
		if event.When.Before(w.End) && !haveNew {
			after, haveNew = running.clone(), true
		}
		running = undo(running, event)
	}

	if !haveNew {
		after = running.clone()
	}
	return FieldState{Old: running, New: after}
}

// Apply replays the change on a set value: (S - removed) + added
func Apply(v Value, event ChangeEvent) Value {
	return apply(v.clone(), event)
}

// Undo reverts the change on a set value: (S - added) + removed
func Undo(v Value, event ChangeEvent) Value {
	return undo(v.clone(), event)
}

func apply(v Value, event ChangeEvent) Value {
	ensureItems(&v)
	v.Items.Delete(ParseList(event.Removed)...)
	v.Items.Insert(ParseList(event.Added)...)
	return v
}

func undo(v Value, event ChangeEvent) Value {
	ensureItems(&v)
	v.Items.Delete(ParseList(event.Added)...)
	v.Items.Insert(ParseList(event.Removed)...)
	return v
}

func ensureItems(v *Value) {
	v.Kind = Set
	if v.Items == nil {
		v.Items = sets.New[string]()
	}
}
