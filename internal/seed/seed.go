// Package seed builds boards for load testing and demo fixtures.
package seed

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/alexjbarnes/kanban-sync/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	DefaultLists   = 5
	DefaultPerList = 120

	description = "Generated seed task for performance testing."
)

// TagPool is cycled through to give generated cards one tag each.
var TagPool = []string{"ui", "bug", "perf", "docs", "a11y", "api", "test", "refactor"}

// Generate builds a board of lists titled "List N", each holding perList
// cards titled "Task N". Everything starts at version 1, as if already
// synced.
func Generate(lists, perList int, now time.Time, newID func() string) models.Snapshot {
	snap := models.NewSnapshot()

	for i := range lists {
		l := models.List{
			ID:             newID(),
			Title:          "List " + strconv.Itoa(i+1),
			CardIDs:        make([]string, 0, perList),
			Version:        1,
			LastModifiedAt: now,
		}

		for j := range perList {
			c := models.Card{
				ID:             newID(),
				ListID:         l.ID,
				Title:          "Task " + strconv.Itoa(j+1),
				Description:    description,
				Tags:           []string{TagPool[(j+len(l.ID))%len(TagPool)]},
				Version:        1,
				LastModifiedAt: now,
			}

			snap.Cards.ByID[c.ID] = c
			l.CardIDs = append(l.CardIDs, c.ID)
		}

		snap.Lists.ByID[l.ID] = l
		snap.Lists.AllIDs = append(snap.Lists.AllIDs, l.ID)
	}

	return snap
}

// Fixture is the YAML board format: lists in order, each with its cards
// in order.
type Fixture struct {
	Lists []FixtureList `yaml:"lists"`
}

type FixtureList struct {
	ID       string        `yaml:"id,omitempty"`
	Title    string        `yaml:"title"`
	Archived bool          `yaml:"archived,omitempty"`
	Cards    []FixtureCard `yaml:"cards,omitempty"`
}

type FixtureCard struct {
	ID          string   `yaml:"id,omitempty"`
	Title       string   `yaml:"title"`
	Description string   `yaml:"description,omitempty"`
	Tags        []string `yaml:"tags,omitempty"`
}

// LoadYAML reads a fixture and returns it as a board. Missing ids are
// filled from newID. Titles are validated the same way user input is.
func LoadYAML(r io.Reader, now time.Time, newID func() string) (models.Snapshot, error) {
	var f Fixture
	if err := yaml.NewDecoder(r).Decode(&f); err != nil && err != io.EOF {
		return models.Snapshot{}, fmt.Errorf("decoding fixture: %w", err)
	}

	snap := models.NewSnapshot()

	for i, fl := range f.Lists {
		title, err := models.ValidateTitle(fl.Title)
		if err != nil {
			return models.Snapshot{}, fmt.Errorf("list %d: %w", i+1, err)
		}

		l := models.List{
			ID:             orNew(fl.ID, newID),
			Title:          title,
			Archived:       fl.Archived,
			CardIDs:        []string{},
			Version:        1,
			LastModifiedAt: now,
		}

		if _, dup := snap.Lists.ByID[l.ID]; dup {
			return models.Snapshot{}, fmt.Errorf("list %d: duplicate id %q", i+1, l.ID)
		}

		for j, fc := range fl.Cards {
			title, err := models.ValidateTitle(fc.Title)
			if err != nil {
				return models.Snapshot{}, fmt.Errorf("list %q card %d: %w", l.Title, j+1, err)
			}

			c := models.Card{
				ID:             orNew(fc.ID, newID),
				ListID:         l.ID,
				Title:          title,
				Description:    fc.Description,
				Tags:           models.ValidateTags(fc.Tags),
				Version:        1,
				LastModifiedAt: now,
			}

			if _, dup := snap.Cards.ByID[c.ID]; dup {
				return models.Snapshot{}, fmt.Errorf("list %q card %d: duplicate id %q", l.Title, j+1, c.ID)
			}

			snap.Cards.ByID[c.ID] = c
			l.CardIDs = append(l.CardIDs, c.ID)
		}

		snap.Lists.ByID[l.ID] = l
		snap.Lists.AllIDs = append(snap.Lists.AllIDs, l.ID)
	}

	return snap, nil
}

func orNew(id string, newID func() string) string {
	if id != "" {
		return id
	}

	return newID()
}
