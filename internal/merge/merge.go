// Package merge implements field-level three-way merge of board entities
// and the conflict records surfaced when a merge cannot complete on its
// own.
package merge

import (
	"bytes"
	"encoding/json"
	"maps"
	"slices"

	"github.com/alexjbarnes/kanban-sync/internal/models"
)

// Mergeable fields per entity kind, in the order conflicts are reported.
var (
	CardFields = []string{"title", "description", "tags", "listId"}
	ListFields = []string{"title", "archived"}
)

// Fields maps a field name to its value.
type Fields map[string]any

// ThreeWay merges local and server against their common base over the
// named fields. The result starts as a copy of server. A field changed
// on both sides to different values is reported as a conflict and keeps
// the server value in the result. Equality compares JSON encodings.
func ThreeWay(base, local, server Fields, fields []string) (Fields, []string) {
	merged := maps.Clone(server)
	if merged == nil {
		merged = Fields{}
	}

	var conflicts []string

	for _, f := range fields {
		b, l, s := base[f], local[f], server[f]

		switch {
		case equal(l, s):
			merged[f] = l
		case equal(l, b) && !equal(s, b):
			merged[f] = s
		case equal(s, b) && !equal(l, b):
			merged[f] = l
		case equal(l, b) && equal(s, b):
			merged[f] = b
		default:
			conflicts = append(conflicts, f)
		}
	}

	return merged, conflicts
}

func equal(a, b any) bool {
	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)

	if errA != nil || errB != nil {
		return false
	}

	return bytes.Equal(ea, eb)
}

// CardValues returns the mergeable fields of c. Nil tags read as empty so
// a missing tag list and an empty one compare equal.
func CardValues(c models.Card) Fields {
	tags := c.Tags
	if tags == nil {
		tags = []string{}
	}

	return Fields{
		"title":       c.Title,
		"description": c.Description,
		"tags":        slices.Clone(tags),
		"listId":      c.ListID,
	}
}

// ListValues returns the mergeable fields of l.
func ListValues(l models.List) Fields {
	return Fields{
		"title":    l.Title,
		"archived": l.Archived,
	}
}

// withCardValues overlays mergeable fields from v onto c.
func withCardValues(c models.Card, v Fields) models.Card {
	c = c.Clone()

	if s, ok := v["title"].(string); ok {
		c.Title = s
	}

	if s, ok := v["description"].(string); ok {
		c.Description = s
	}

	if t, ok := v["tags"].([]string); ok {
		c.Tags = slices.Clone(t)
	}

	if s, ok := v["listId"].(string); ok {
		c.ListID = s
	}

	return c
}

// MergeCard merges the mergeable card fields. The result carries the
// server's identity and version; a nil base is treated as a blank card.
func MergeCard(base *models.Card, local, server models.Card) (models.Card, []string) {
	var b models.Card
	if base != nil {
		b = *base
	}

	merged, conflicts := ThreeWay(CardValues(b), CardValues(local), CardValues(server), CardFields)

	return withCardValues(server, merged), conflicts
}
