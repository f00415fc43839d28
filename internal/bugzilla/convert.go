package bugzilla

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/petr-muller/bzreport/internal/history"
)

// ToSnapshot converts a bug into the snapshot used by the reconstruction.
// Only fields known to the schema are converted, and a field whose JSON shape
// disagrees with its kind in the schema is an error. The history is sorted.
func ToSnapshot(bug Bug, schema history.Schema) (*history.Snapshot, error) {
	snap := &history.Snapshot{
		ID:      bug.ID,
		Created: bug.CreationTime.UTC(),
		Fields:  make(map[string]history.Value, len(schema)),
	}

	for field, kind := range schema {
		raw, ok := bug.Fields[field]
		if !ok {
			continue
		}
		value, err := decodeValue(raw, kind)
		if err != nil {
			return nil, &history.MalformedSnapshotError{BugID: bug.ID, Field: field, Reason: err.Error()}
		}
		snap.Fields[field] = value
	}

	for _, entry := range bug.History {
		for _, change := range entry.Changes {
			snap.History = append(snap.History, history.ChangeEvent{
				When:    entry.When.UTC(),
				Field:   change.FieldName,
				Removed: change.Removed,
				Added:   change.Added,
				Author:  entry.Who,
			})
		}
	}
	snap.SortHistory()

	for _, comment := range bug.Comments {
		snap.Comments = append(snap.Comments, history.Comment{
			Creator: comment.Creator,
			Created: comment.CreationTime.UTC(),
			Text:    comment.Text,
		})
	}
	return snap, nil
}

// ToSnapshots converts all bugs, failing on the first malformed one
func ToSnapshots(bugs []Bug, schema history.Schema) ([]*history.Snapshot, error) {
	snapshots := make([]*history.Snapshot, 0, len(bugs))
	for _, bug := range bugs {
		snap, err := ToSnapshot(bug, schema)
		if err != nil {
			return nil, err
		}
		snapshots = append(snapshots, snap)
	}
	return snapshots, nil
}

func decodeValue(raw json.RawMessage, kind history.FieldKind) (history.Value, error) {
	trimmed := bytes.TrimSpace(raw)
	isList := len(trimmed) > 0 && trimmed[0] == '['

	switch kind {
	case history.Set:
		if bytes.Equal(trimmed, []byte("null")) {
			return history.SetValue(), nil
		}
		if !isList {
			return history.Value{}, fmt.Errorf("expected a list, got %s", trimmed)
		}
		var raw []any
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return history.Value{}, fmt.Errorf("cannot decode list: %w", err)
		}
		items := make([]string, 0, len(raw))
		for _, item := range raw {
			s, ok := scalarString(item)
			if !ok {
				return history.Value{}, fmt.Errorf("list item %v is not a scalar", item)
			}
			items = append(items, s)
		}
		return history.SetValue(items...), nil
	case history.Scalar:
		if isList {
			return history.Value{}, fmt.Errorf("expected a scalar, got a list")
		}
		var v any
		if err := json.Unmarshal(trimmed, &v); err != nil {
			return history.Value{}, fmt.Errorf("cannot decode value: %w", err)
		}
		s, ok := scalarString(v)
		if !ok {
			return history.Value{}, fmt.Errorf("expected a scalar, got %s", trimmed)
		}
		return history.ScalarValue(s), nil
	}
	return history.Value{}, fmt.Errorf("unknown field kind %s", kind)
}

func scalarString(v any) (string, bool) {
	switch typed := v.(type) {
	case nil:
		return "", true
	case string:
		return typed, true
	case float64:
		return strconv.FormatFloat(typed, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(typed), true
	}
	return "", false
}
