package merge

import (
	"fmt"
	"strings"

	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/queue"
	"github.com/sergi/go-diff/diffmatchpatch"
)

// Entity holds exactly one of a list or a card.
type Entity struct {
	List *models.List `json:"list,omitempty"`
	Card *models.Card `json:"card,omitempty"`
}

// Conflict is a merge that needs a human decision. While one is pending
// the sync queue does not drain.
type Conflict struct {
	Kind      string            `json:"entityType"`
	EntityID  string            `json:"id"`
	OpID      string            `json:"opId"`
	Base      Entity            `json:"base"`
	Local     Entity            `json:"local"`
	Server    Entity            `json:"server"`
	Conflicts []string          `json:"conflicts"`
	Diffs     map[string]string `json:"diffs,omitempty"`
}

// Card runs the three-way merge for a rejected card write. It returns
// the merged card when every field resolves, otherwise a conflict.
func Card(opID string, base *models.Card, local, server models.Card) (models.Card, *Conflict) {
	merged, conflicts := MergeCard(base, local, server)
	if len(conflicts) == 0 {
		return merged, nil
	}

	c := &Conflict{
		Kind:      models.KindCard,
		EntityID:  server.ID,
		OpID:      opID,
		Local:     Entity{Card: ptr(local.Clone())},
		Server:    Entity{Card: ptr(server.Clone())},
		Conflicts: conflicts,
	}

	if base != nil {
		c.Base = Entity{Card: ptr(base.Clone())}
	}

	c.Diffs = textDiffs(conflicts, CardValues(local), CardValues(server))

	return models.Card{}, c
}

// List builds the conflict for a rejected list write. Lists are never
// auto-merged: both mergeable fields are always offered for a decision.
func List(opID string, base *models.List, local, server models.List) *Conflict {
	c := &Conflict{
		Kind:      models.KindList,
		EntityID:  server.ID,
		OpID:      opID,
		Local:     Entity{List: ptr(local.Clone())},
		Server:    Entity{List: ptr(server.Clone())},
		Conflicts: append([]string{}, ListFields...),
	}

	if base != nil {
		c.Base = Entity{List: ptr(base.Clone())}
	}

	c.Diffs = textDiffs(c.Conflicts, ListValues(local), ListValues(server))

	return c
}

// textDiffs renders a word-diff of local against server for each
// conflicting string field that differs.
func textDiffs(fields []string, local, server Fields) map[string]string {
	out := make(map[string]string)
	dmp := diffmatchpatch.New()

	for _, f := range fields {
		l, okL := local[f].(string)
		s, okS := server[f].(string)

		if !okL || !okS || l == s {
			continue
		}

		diffs := dmp.DiffMain(l, s, false)
		diffs = dmp.DiffCleanupSemantic(diffs)
		out[f] = renderDiff(diffs)
	}

	if len(out) == 0 {
		return nil
	}

	return out
}

func renderDiff(diffs []diffmatchpatch.Diff) string {
	var b strings.Builder

	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			fmt.Fprintf(&b, "{+%s+}", d.Text)
		case diffmatchpatch.DiffDelete:
			fmt.Fprintf(&b, "[-%s-]", d.Text)
		default:
			b.WriteString(d.Text)
		}
	}

	return b.String()
}

func ptr[T any](v T) *T { return &v }

// Choice selects which side wins a conflicting field.
type Choice string

const (
	Local  Choice = "local"
	Server Choice = "server"
)

// Resolution is a per-field choice. Fields that are missing or carry an
// unrecognized choice take the local value.
type Resolution map[string]Choice

func (r Resolution) pick(field string) Choice {
	if r[field] == Server {
		return Server
	}

	return Local
}

// ResolveCard builds the card to force-write: the server card with each
// mergeable field taken from the chosen side.
func ResolveCard(c *Conflict, r Resolution) (models.Card, error) {
	if c.Kind != models.KindCard || c.Local.Card == nil || c.Server.Card == nil {
		return models.Card{}, fmt.Errorf("conflict on %s %s has no card snapshots", c.Kind, c.EntityID)
	}

	local, server := CardValues(*c.Local.Card), CardValues(*c.Server.Card)

	chosen := Fields{}
	for _, f := range CardFields {
		if r.pick(f) == Server {
			chosen[f] = server[f]
		} else {
			chosen[f] = local[f]
		}
	}

	return withCardValues(*c.Server.Card, chosen), nil
}

// ResolveListPatch builds the patch that applies the chosen list fields
// on top of the server's current version.
func ResolveListPatch(c *Conflict, r Resolution) (queue.ListPatch, error) {
	if c.Kind != models.KindList || c.Local.List == nil || c.Server.List == nil {
		return queue.ListPatch{}, fmt.Errorf("conflict on %s %s has no list snapshots", c.Kind, c.EntityID)
	}

	src := func(f string) models.List {
		if r.pick(f) == Server {
			return *c.Server.List
		}

		return *c.Local.List
	}

	title := src("title").Title
	archived := src("archived").Archived

	return queue.ListPatch{Title: &title, Archived: &archived}, nil
}
