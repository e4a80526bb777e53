package seed

import (
	"fmt"
	"strings"
	"testing"
	"time"

	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func seqIDs() func() string {
	n := 0

	return func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func TestGenerate_Default(t *testing.T) {
	snap := Generate(DefaultLists, DefaultPerList, now, seqIDs())

	assert.Len(t, snap.Lists.AllIDs, 5)
	assert.Len(t, snap.Cards.ByID, 600)

	for i, id := range snap.Lists.AllIDs {
		l := snap.Lists.ByID[id]
		assert.Equal(t, fmt.Sprintf("List %d", i+1), l.Title)
		assert.Len(t, l.CardIDs, DefaultPerList)
		assert.Equal(t, int64(1), l.Version)

		for j, cid := range l.CardIDs {
			c := snap.Cards.ByID[cid]
			assert.Equal(t, id, c.ListID)
			assert.Equal(t, fmt.Sprintf("Task %d", j+1), c.Title)
			require.Len(t, c.Tags, 1)
			assert.Contains(t, TagPool, c.Tags[0])
		}
	}
}

func TestGenerate_TagsCycle(t *testing.T) {
	snap := Generate(1, len(TagPool), now, seqIDs())
	l := snap.Lists.ByID[snap.Lists.AllIDs[0]]

	seen := map[string]bool{}
	for _, cid := range l.CardIDs {
		seen[snap.Cards.ByID[cid].Tags[0]] = true
	}

	assert.Len(t, seen, len(TagPool))
}

func TestGenerate_Empty(t *testing.T) {
	snap := Generate(0, 10, now, seqIDs())
	assert.Empty(t, snap.Lists.AllIDs)
	assert.Empty(t, snap.Cards.ByID)
}

func TestLoadYAML(t *testing.T) {
	fixture := `
lists:
  - id: todo
    title: " Todo "
    cards:
      - title: Write tests
        description: cover the engine
        tags: [test, " ", api]
      - id: fixed
        title: Ship
  - title: Done
    archived: true
`

	snap, err := LoadYAML(strings.NewReader(fixture), now, seqIDs())
	require.NoError(t, err)

	require.Equal(t, []string{"todo", "id-002"}, snap.Lists.AllIDs)

	todo := snap.Lists.ByID["todo"]
	assert.Equal(t, "Todo", todo.Title)
	assert.Equal(t, []string{"id-001", "fixed"}, todo.CardIDs)

	c := snap.Cards.ByID["id-001"]
	assert.Equal(t, "todo", c.ListID)
	assert.Equal(t, []string{"test", "api"}, c.Tags)
	assert.Equal(t, int64(1), c.Version)
	assert.Equal(t, now, c.LastModifiedAt)

	assert.True(t, snap.Lists.ByID["id-002"].Archived)
	assert.Empty(t, snap.Lists.ByID["id-002"].CardIDs)
}

func TestLoadYAML_Errors(t *testing.T) {
	tests := []struct {
		name    string
		fixture string
		want    error
	}{
		{"blank list title", "lists:\n  - title: ''\n", kerrors.ErrValidation},
		{"blank card title", "lists:\n  - title: A\n    cards:\n      - title: '  '\n", kerrors.ErrValidation},
		{"duplicate list", "lists:\n  - {id: a, title: A}\n  - {id: a, title: B}\n", nil},
		{"malformed", "lists: [", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadYAML(strings.NewReader(tt.fixture), now, seqIDs())
			require.Error(t, err)

			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestLoadYAML_EmptyDocument(t *testing.T) {
	snap, err := LoadYAML(strings.NewReader(""), now, seqIDs())
	require.NoError(t, err)
	assert.Empty(t, snap.Lists.AllIDs)
}
