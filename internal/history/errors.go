package history

import "fmt"

// MalformedSnapshotError is returned when a bug does not carry a field the report
// needs or when the shape of a field value disagrees with the field schema
type MalformedSnapshotError struct {
	BugID  int
	Field  string
	Reason string
}

func (e *MalformedSnapshotError) Error() string {
	return fmt.Sprintf("bug %d: field %q: %s", e.BugID, e.Field, e.Reason)
}
