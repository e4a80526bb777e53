package remote

import (
	"context"
	"fmt"
	"net/url"

	"github.com/alexjbarnes/kanban-sync/internal/api"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/queue"
)

// GetState fetches the server's full board.
func (c *Client) GetState(ctx context.Context) (models.Snapshot, error) {
	var snap models.Snapshot
	if err := c.do(ctx, "GET", api.PathState, nil, &snap); err != nil {
		return models.Snapshot{}, fmt.Errorf("fetching state: %w", err)
	}

	return snap.Normalize(), nil
}

// CreateList creates a list. The server assigns version 1.
func (c *Client) CreateList(ctx context.Context, l models.List) (models.List, error) {
	var resp api.ListBody
	if err := c.do(ctx, "POST", api.PathLists, api.ListBody{List: l}, &resp); err != nil {
		return models.List{}, fmt.Errorf("creating list %s: %w", l.ID, err)
	}

	return resp.List, nil
}

// UpdateList patches a list if the server still has baseVersion.
func (c *Client) UpdateList(ctx context.Context, id string, patch queue.ListPatch, baseVersion int64) (models.List, error) {
	var resp api.ListBody

	err := c.do(ctx, "PUT", api.PathLists+"/"+url.PathEscape(id),
		api.UpdateListRequest{Patch: patch, BaseVersion: baseVersion}, &resp)
	if err != nil {
		return models.List{}, fmt.Errorf("updating list %s: %w", id, err)
	}

	return resp.List, nil
}

// CreateCard creates a card and appends it to its list.
func (c *Client) CreateCard(ctx context.Context, card models.Card) (models.Card, error) {
	var resp api.CardBody
	if err := c.do(ctx, "POST", api.PathCards, api.CardBody{Card: card}, &resp); err != nil {
		return models.Card{}, fmt.Errorf("creating card %s: %w", card.ID, err)
	}

	return resp.Card, nil
}

// UpdateCard patches a card if the server still has baseVersion.
func (c *Client) UpdateCard(ctx context.Context, id string, patch queue.CardPatch, baseVersion int64) (models.Card, error) {
	var resp api.CardBody

	err := c.do(ctx, "PUT", api.PathCards+"/"+url.PathEscape(id),
		api.UpdateCardRequest{Patch: patch, BaseVersion: baseVersion}, &resp)
	if err != nil {
		return models.Card{}, fmt.Errorf("updating card %s: %w", id, err)
	}

	return resp.Card, nil
}

// ForceCard overwrites a card's fields without a version check.
func (c *Client) ForceCard(ctx context.Context, card models.Card) (models.Card, error) {
	var resp api.CardBody

	err := c.do(ctx, "PUT", api.PathCards+"/"+url.PathEscape(card.ID)+"/force", api.CardBody{Card: card}, &resp)
	if err != nil {
		return models.Card{}, fmt.Errorf("forcing card %s: %w", card.ID, err)
	}

	return resp.Card, nil
}

// DeleteCard removes a card from the server and from every list.
func (c *Client) DeleteCard(ctx context.Context, id string) error {
	var resp api.OKResponse
	if err := c.do(ctx, "DELETE", api.PathCards+"/"+url.PathEscape(id), nil, &resp); err != nil {
		return fmt.Errorf("deleting card %s: %w", id, err)
	}

	return nil
}

// MoveCard moves a card between lists.
func (c *Client) MoveCard(ctx context.Context, req api.MoveRequest) (api.MoveResponse, error) {
	var resp api.MoveResponse
	if err := c.do(ctx, "PUT", api.PathMove, req, &resp); err != nil {
		return api.MoveResponse{}, fmt.Errorf("moving card %s: %w", req.CardID, err)
	}

	return resp, nil
}

// SetControls replaces the server's fault-injection controls.
func (c *Client) SetControls(ctx context.Context, ctl api.Controls) (api.Controls, error) {
	var resp api.Controls
	if err := c.do(ctx, "POST", api.PathControls, ctl, &resp); err != nil {
		return api.Controls{}, fmt.Errorf("setting server controls: %w", err)
	}

	return resp, nil
}

// Reset wipes the server board and controls.
func (c *Client) Reset(ctx context.Context) error {
	if err := c.do(ctx, "POST", api.PathReset, nil, nil); err != nil {
		return fmt.Errorf("resetting server: %w", err)
	}

	return nil
}
