package bugzilla

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Bug is a bug as returned by the REST API. Fields holds every returned field
// in its raw form so that the field schema decides how it is interpreted.
type Bug struct {
	ID           int
	Product      string
	Component    string
	CreationTime time.Time
	History      []History
	Comments     []Comment
	Fields       map[string]json.RawMessage
}

// History is one entry of the bug's audit log
type History struct {
	When    time.Time `json:"when"`
	Who     string    `json:"who"`
	Changes []Change  `json:"changes"`
}

// Change is a single field change within a History entry
type Change struct {
	FieldName string `json:"field_name"`
	Removed   string `json:"removed"`
	Added     string `json:"added"`
}

// Comment is a bug comment
type Comment struct {
	Creator      string    `json:"creator"`
	CreationTime time.Time `json:"creation_time"`
	Text         string    `json:"text"`
}

func (b *Bug) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	known := struct {
		ID           int       `json:"id"`
		Product      string    `json:"product"`
		Component    string    `json:"component"`
		CreationTime time.Time `json:"creation_time"`
		History      []History `json:"history"`
		Comments     []Comment `json:"comments"`
	}{}
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	*b = Bug{
		ID:           known.ID,
		Product:      known.Product,
		Component:    known.Component,
		CreationTime: known.CreationTime,
		History:      known.History,
		Comments:     known.Comments,
		Fields:       raw,
	}
	delete(b.Fields, "history")
	delete(b.Fields, "comments")
	return nil
}

type searchResponse struct {
	Bugs []Bug `json:"bugs"`
}

type errorResponse struct {
	Error   bool   `json:"error"`
	Message string `json:"message"`
	Code    int    `json:"code"`
}

// Configuration is the subset of /rest/configuration describing products and components
type Configuration struct {
	Field struct {
		Product struct {
			Values []Product `json:"values"`
		} `json:"product"`
		Component struct {
			Values []Component `json:"values"`
		} `json:"component"`
	} `json:"field"`
}

// Product is a Bugzilla product
type Product struct {
	ID       int    `json:"id"`
	Name     string `json:"name"`
	IsActive Flag   `json:"isactive"`
}

// Component is a Bugzilla component together with the team owning it
type Component struct {
	Name      string `json:"name"`
	ProductID int    `json:"product_id"`
	IsActive  Flag   `json:"isactive"`
	TeamName  string `json:"team_name"`
}

// Flag is a boolean that Bugzilla serializes either as 0/1 or as true/false
type Flag bool

func (f *Flag) UnmarshalJSON(data []byte) error {
	switch strings.Trim(string(data), `"`) {
	case "1", "true":
		*f = true
	case "0", "false", "null", "":
		*f = false
	default:
		return fmt.Errorf("cannot parse %s as a flag", data)
	}
	return nil
}
