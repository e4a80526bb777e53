// Package mcpserver registers MCP tools that expose the board and its
// sync state. Every edit goes through the board store, so tool calls are
// queued, undoable and synced exactly like any other local edit.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/alexjbarnes/kanban-sync/internal/board"
	"github.com/alexjbarnes/kanban-sync/internal/engine"
	"github.com/alexjbarnes/kanban-sync/internal/merge"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/queue"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Syncer is the slice of the sync engine the tools drive.
type Syncer interface {
	Drain(ctx context.Context) engine.Outcome
	Status() engine.Status
	ResolveMerge(ctx context.Context, res merge.Resolution) error
}

// RegisterTools adds all board and sync tools to the given MCP server.
func RegisterTools(server *mcp.Server, store *board.Store, sync Syncer) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "board_get",
		Description: "Return the board: lists in order with their cards in order, the number of queued sync operations, and any pending merge conflict. Archived lists are omitted unless include_archived is set.",
	}, boardHandler(store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_add",
		Description: "Append a new list to the board. The title is trimmed and must not be empty.",
	}, listAddHandler(store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_rename",
		Description: "Rename a list.",
	}, listRenameHandler(store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_archive",
		Description: "Archive or unarchive a list. Lists are never deleted.",
	}, listArchiveHandler(store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "card_add",
		Description: "Add a card to the end of a list. Tags are trimmed and empty tags dropped.",
	}, cardAddHandler(store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "card_update",
		Description: "Patch a card. Only the given fields change. Setting list_id moves the card to the end of that list.",
	}, cardUpdateHandler(store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "card_delete",
		Description: "Delete a card.",
	}, cardDeleteHandler(store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "card_move",
		Description: "Move a card to a position in a list. The index is 0-based and clamped to the list length.",
	}, cardMoveHandler(store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "board_undo",
		Description: "Undo the last board edit locally. Undo is never synced to the server.",
	}, undoHandler(store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "board_redo",
		Description: "Redo the last undone board edit locally.",
	}, redoHandler(store))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_now",
		Description: "Replay queued operations against the server now and report the outcome.",
	}, syncNowHandler(sync))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_status",
		Description: "Report sync status: in-flight flag, last error, last successful sync, queued operations, pending conflict and connectivity.",
	}, syncStatusHandler(sync))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_set_offline",
		Description: "Force the client offline, or go back online. While forced offline, edits queue locally and nothing is sent.",
	}, setOfflineHandler(store, sync))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "sync_clear_error",
		Description: "Dismiss the last sync error.",
	}, clearErrorHandler(store, sync))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "conflict_resolve",
		Description: "Resolve the pending merge conflict. choices maps each conflicting field to \"local\" or \"server\"; fields not given keep the local value.",
	}, resolveHandler(sync))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// BoardInput holds parameters for board_get.
type BoardInput struct {
	IncludeArchived bool `json:"include_archived,omitempty" jsonschema:"include archived lists"`
}

// ListAddInput holds parameters for list_add.
type ListAddInput struct {
	Title string `json:"title" jsonschema:"required,list title"`
}

// ListRenameInput holds parameters for list_rename.
type ListRenameInput struct {
	ID    string `json:"id" jsonschema:"required,list id"`
	Title string `json:"title" jsonschema:"required,new title"`
}

// ListArchiveInput holds parameters for list_archive.
type ListArchiveInput struct {
	ID       string `json:"id" jsonschema:"required,list id"`
	Archived *bool  `json:"archived,omitempty" jsonschema:"archived flag, defaults to true"`
}

// CardAddInput holds parameters for card_add.
type CardAddInput struct {
	ListID      string   `json:"list_id" jsonschema:"required,id of the list to add to"`
	Title       string   `json:"title" jsonschema:"required,card title"`
	Description string   `json:"description,omitempty" jsonschema:"card description"`
	Tags        []string `json:"tags,omitempty" jsonschema:"card tags"`
}

// CardUpdateInput holds parameters for card_update.
type CardUpdateInput struct {
	ID          string    `json:"id" jsonschema:"required,card id"`
	Title       *string   `json:"title,omitempty" jsonschema:"new title"`
	Description *string   `json:"description,omitempty" jsonschema:"new description"`
	Tags        *[]string `json:"tags,omitempty" jsonschema:"replacement tag list"`
	ListID      *string   `json:"list_id,omitempty" jsonschema:"id of a list to move the card to"`
}

// CardIDInput holds parameters for card_delete.
type CardIDInput struct {
	ID string `json:"id" jsonschema:"required,card id"`
}

// CardMoveInput holds parameters for card_move.
type CardMoveInput struct {
	CardID   string `json:"card_id" jsonschema:"required,card id"`
	ToListID string `json:"to_list_id" jsonschema:"required,destination list id"`
	ToIndex  int    `json:"to_index" jsonschema:"0-based position in the destination list"`
}

// EmptyInput has no parameters.
type EmptyInput struct{}

// OfflineInput holds parameters for sync_set_offline.
type OfflineInput struct {
	Offline bool `json:"offline" jsonschema:"true to force offline, false to go back online"`
}

// ResolveInput holds parameters for conflict_resolve.
type ResolveInput struct {
	Choices map[string]string `json:"choices,omitempty" jsonschema:"field name to local or server"`
}

// --- Output types ---

// ListView is a list with its cards resolved in display order.
type ListView struct {
	ID       string        `json:"id"`
	Title    string        `json:"title"`
	Archived bool          `json:"archived"`
	Version  int64         `json:"version"`
	Cards    []models.Card `json:"cards"`
}

// BoardResult is returned by board_get.
type BoardResult struct {
	Lists          []ListView      `json:"lists"`
	Pending        int             `json:"pending"`
	SelectedCardID string          `json:"selected_card_id,omitempty"`
	Conflict       *merge.Conflict `json:"conflict,omitempty"`
}

// EditResult is returned by edits that do not produce an entity.
type EditResult struct {
	OK      bool `json:"ok"`
	Pending int  `json:"pending"`
}

// HistoryResult is returned by board_undo and board_redo.
type HistoryResult struct {
	Applied bool `json:"applied"`
}

// SyncResult is returned by sync_now.
type SyncResult struct {
	Outcome string        `json:"outcome"`
	Status  engine.Status `json:"status"`
}

// --- Handlers ---

func boardHandler(store *board.Store) mcp.ToolHandlerFor[BoardInput, *BoardResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input BoardInput) (*mcp.CallToolResult, *BoardResult, error) {
		result := boardView(store.Snapshot(), input.IncludeArchived)
		return textResult(result), result, nil
	}
}

func boardView(s board.State, includeArchived bool) *BoardResult {
	result := &BoardResult{
		Lists:          []ListView{},
		Pending:        s.Sync.Queue.Len(),
		SelectedCardID: s.UI.SelectedCardID,
		Conflict:       s.UI.MergeConflict,
	}

	for _, l := range s.Lists.Ordered() {
		if l.Archived && !includeArchived {
			continue
		}

		view := ListView{ID: l.ID, Title: l.Title, Archived: l.Archived, Version: l.Version, Cards: []models.Card{}}

		for _, id := range l.CardIDs {
			if c, ok := s.Cards.ByID[id]; ok {
				view.Cards = append(view.Cards, c)
			}
		}

		result.Lists = append(result.Lists, view)
	}

	return result
}

func edited(store *board.Store) *EditResult {
	return &EditResult{OK: true, Pending: store.Queue().Len()}
}

func listAddHandler(store *board.Store) mcp.ToolHandlerFor[ListAddInput, *models.List] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ListAddInput) (*mcp.CallToolResult, *models.List, error) {
		l, err := store.AddList(input.Title)
		if err != nil {
			return nil, nil, err
		}
		return textResult(l), &l, nil
	}
}

func listRenameHandler(store *board.Store) mcp.ToolHandlerFor[ListRenameInput, *EditResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ListRenameInput) (*mcp.CallToolResult, *EditResult, error) {
		if err := store.RenameList(input.ID, input.Title); err != nil {
			return nil, nil, err
		}
		result := edited(store)
		return textResult(result), result, nil
	}
}

func listArchiveHandler(store *board.Store) mcp.ToolHandlerFor[ListArchiveInput, *EditResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input ListArchiveInput) (*mcp.CallToolResult, *EditResult, error) {
		archived := true
		if input.Archived != nil {
			archived = *input.Archived
		}
		if err := store.ArchiveList(input.ID, archived); err != nil {
			return nil, nil, err
		}
		result := edited(store)
		return textResult(result), result, nil
	}
}

func cardAddHandler(store *board.Store) mcp.ToolHandlerFor[CardAddInput, *models.Card] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input CardAddInput) (*mcp.CallToolResult, *models.Card, error) {
		c, err := store.AddCard(board.NewCard{
			ListID:      input.ListID,
			Title:       input.Title,
			Description: input.Description,
			Tags:        input.Tags,
		})
		if err != nil {
			return nil, nil, err
		}
		return textResult(c), &c, nil
	}
}

func cardUpdateHandler(store *board.Store) mcp.ToolHandlerFor[CardUpdateInput, *models.Card] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input CardUpdateInput) (*mcp.CallToolResult, *models.Card, error) {
		patch := queue.CardPatch{
			Title:       input.Title,
			Description: input.Description,
			Tags:        input.Tags,
			ListID:      input.ListID,
		}
		if err := store.UpdateCard(input.ID, patch); err != nil {
			return nil, nil, err
		}
		c, ok := store.CardByID(input.ID)
		if !ok {
			return nil, nil, fmt.Errorf("card %s disappeared after update", input.ID)
		}
		return textResult(c), &c, nil
	}
}

func cardDeleteHandler(store *board.Store) mcp.ToolHandlerFor[CardIDInput, *EditResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input CardIDInput) (*mcp.CallToolResult, *EditResult, error) {
		if err := store.DeleteCard(input.ID); err != nil {
			return nil, nil, err
		}
		result := edited(store)
		return textResult(result), result, nil
	}
}

func cardMoveHandler(store *board.Store) mcp.ToolHandlerFor[CardMoveInput, *EditResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input CardMoveInput) (*mcp.CallToolResult, *EditResult, error) {
		if err := store.MoveCard(input.CardID, input.ToListID, input.ToIndex); err != nil {
			return nil, nil, err
		}
		result := edited(store)
		return textResult(result), result, nil
	}
}

func undoHandler(store *board.Store) mcp.ToolHandlerFor[EmptyInput, *HistoryResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *HistoryResult, error) {
		result := &HistoryResult{Applied: store.Undo()}
		return textResult(result), result, nil
	}
}

func redoHandler(store *board.Store) mcp.ToolHandlerFor[EmptyInput, *HistoryResult] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *HistoryResult, error) {
		result := &HistoryResult{Applied: store.Redo()}
		return textResult(result), result, nil
	}
}

func syncNowHandler(sync Syncer) mcp.ToolHandlerFor[EmptyInput, *SyncResult] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *SyncResult, error) {
		outcome := sync.Drain(ctx)
		result := &SyncResult{Outcome: string(outcome), Status: sync.Status()}
		return textResult(result), result, nil
	}
}

func syncStatusHandler(sync Syncer) mcp.ToolHandlerFor[EmptyInput, *engine.Status] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *engine.Status, error) {
		st := sync.Status()
		return textResult(st), &st, nil
	}
}

func setOfflineHandler(store *board.Store, sync Syncer) mcp.ToolHandlerFor[OfflineInput, *engine.Status] {
	return func(_ context.Context, _ *mcp.CallToolRequest, input OfflineInput) (*mcp.CallToolResult, *engine.Status, error) {
		store.SetForceOffline(input.Offline)
		st := sync.Status()
		return textResult(st), &st, nil
	}
}

func clearErrorHandler(store *board.Store, sync Syncer) mcp.ToolHandlerFor[EmptyInput, *engine.Status] {
	return func(_ context.Context, _ *mcp.CallToolRequest, _ EmptyInput) (*mcp.CallToolResult, *engine.Status, error) {
		store.ClearError()
		st := sync.Status()
		return textResult(st), &st, nil
	}
}

func resolveHandler(sync Syncer) mcp.ToolHandlerFor[ResolveInput, *engine.Status] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ResolveInput) (*mcp.CallToolResult, *engine.Status, error) {
		res := merge.Resolution{}
		for field, choice := range input.Choices {
			switch merge.Choice(choice) {
			case merge.Local, merge.Server:
				res[field] = merge.Choice(choice)
			default:
				return nil, nil, fmt.Errorf("choice for %s must be %q or %q, got %q", field, merge.Local, merge.Server, choice)
			}
		}

		if err := sync.ResolveMerge(ctx, res); err != nil {
			return nil, nil, err
		}

		st := sync.Status()
		return textResult(st), &st, nil
	}
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
