package bugzilla

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/petr-muller/bzreport/internal/history"
)

const bugPayload = `{
	"id": 1234,
	"product": "Core",
	"component": "DOM",
	"creation_time": "2024-01-02T03:04:05Z",
	"severity": "S2",
	"status": "NEW",
	"keywords": ["regression", "sec-high"],
	"cf_rank": null,
	"dupe_of": 17,
	"regressed_by": [1001, 1002],
	"history": [
		{"when": "2024-02-01T00:00:00Z", "who": "bob", "changes": [
			{"field_name": "keywords", "removed": "", "added": "sec-high"}
		]},
		{"when": "2024-01-10T00:00:00Z", "who": "alice", "changes": [
			{"field_name": "severity", "removed": "S3", "added": "S2"},
			{"field_name": "keywords", "removed": "", "added": "regression"}
		]}
	],
	"comments": [
		{"creator": "alice", "creation_time": "2024-01-02T03:04:05Z", "text": "It crashes"}
	]
}`

var testSchema = history.Schema{
	"severity":     history.Scalar,
	"status":       history.Scalar,
	"keywords":     history.Set,
	"cf_rank":      history.Scalar,
	"dupe_of":      history.Scalar,
	"priority":     history.Scalar,
	"regressed_by": history.Set,
}

func TestToSnapshot(t *testing.T) {
	var bug Bug
	require.NoError(t, json.Unmarshal([]byte(bugPayload), &bug))
	assert.Equal(t, "Core", bug.Product)
	assert.NotContains(t, bug.Fields, "history")

	snap, err := ToSnapshot(bug, testSchema)
	require.NoError(t, err)

	assert.Equal(t, 1234, snap.ID)
	assert.True(t, snap.Fields["severity"].Equal(history.ScalarValue("S2")))
	assert.True(t, snap.Fields["keywords"].Equal(history.SetValue("regression", "sec-high")))
	assert.True(t, snap.Fields["cf_rank"].Equal(history.ScalarValue("")))
	assert.True(t, snap.Fields["dupe_of"].Equal(history.ScalarValue("17")))
	assert.True(t, snap.Fields["regressed_by"].Equal(history.SetValue("1001", "1002")))
	assert.NotContains(t, snap.Fields, "priority")
	assert.NotContains(t, snap.Fields, "product", "fields outside the schema are not converted")

	require.Len(t, snap.History, 3)
	assert.Equal(t, time.Date(2024, time.January, 10, 0, 0, 0, 0, time.UTC), snap.History[0].When)
	assert.Equal(t, "severity", snap.History[0].Field)
	assert.Equal(t, "keywords", snap.History[1].Field, "changes of one entry keep their order")
	assert.Equal(t, "bob", snap.History[2].Author)

	require.Len(t, snap.Comments, 1)
	assert.Equal(t, "It crashes", snap.Comments[0].Text)
}

func TestToSnapshotRejectsShapeMismatch(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		field   string
	}{
		{name: "list for a scalar field", payload: `{"id": 1, "severity": ["S1"]}`, field: "severity"},
		{name: "string for a set field", payload: `{"id": 1, "keywords": "regression"}`, field: "keywords"},
		{name: "object for a scalar field", payload: `{"id": 1, "status": {"name": "NEW"}}`, field: "status"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var bug Bug
			require.NoError(t, json.Unmarshal([]byte(tc.payload), &bug))
			_, err := ToSnapshot(bug, testSchema)
			var malformed *history.MalformedSnapshotError
			require.True(t, errors.As(err, &malformed), "expected MalformedSnapshotError, got %v", err)
			assert.Equal(t, 1, malformed.BugID)
			assert.Equal(t, tc.field, malformed.Field)
		})
	}
}
