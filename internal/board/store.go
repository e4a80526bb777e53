package board

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	kerrors "github.com/alexjbarnes/kanban-sync/internal/errors"
	"github.com/alexjbarnes/kanban-sync/internal/merge"
	"github.com/alexjbarnes/kanban-sync/internal/models"
	"github.com/alexjbarnes/kanban-sync/internal/queue"
	"github.com/google/uuid"
)

// Persister stores JSON blobs under string keys.
type Persister interface {
	LoadJSON(key string, dst any) (bool, error)
	SaveJSON(key string, v any) error
}

// Store owns the live client state. Every user action validates its
// input, records undo, applies the transition, queues exactly one
// operation and persists, all under one lock.
type Store struct {
	mu      sync.Mutex
	state   State
	persist Persister
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	changed chan struct{}
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithIDs replaces the random id generator.
func WithIDs(newID func() string) Option {
	return func(s *Store) { s.newID = newID }
}

// New returns a store with an empty board. A nil persister keeps state
// in memory only.
func New(p Persister, logger *slog.Logger, opts ...Option) *Store {
	s := &Store{
		state:   Empty(),
		persist: p,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
		changed: make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Load returns a store restored from p. Missing or undecodable blobs
// fall back to the empty default; the failure is logged, not returned.
func Load(p Persister, logger *slog.Logger, opts ...Option) *Store {
	s := New(p, logger, opts...)

	restored := Empty()

	if ok, err := p.LoadJSON(BoardKey, &restored); err != nil {
		logger.Warn("discarding unreadable board state", slog.String("error", err.Error()))

		restored = Empty()
	} else if ok {
		logger.Debug("restored board state",
			slog.Int("lists", len(restored.Lists.ByID)),
			slog.Int("cards", len(restored.Cards.ByID)),
		)
	}

	var q queue.Queue
	if _, err := p.LoadJSON(QueueKey, &q); err != nil {
		logger.Warn("discarding unreadable sync queue", slog.String("error", err.Error()))

		q = nil
	}

	restored.Sync.Queue = q
	s.state = Reduce(s.state, Hydrate{State: restored}, s.now())

	return s
}

// Changed signals after new operations are queued. The channel holds at
// most one pending signal.
func (s *Store) Changed() <-chan struct{} {
	return s.changed
}

// Snapshot returns a deep copy of the current state.
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.Clone()
}

// Dispatch applies a single action and persists the result.
func (s *Store) Dispatch(a Action) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.apply(a)
	s.save()

	if _, ok := a.(SyncEnqueue); ok {
		s.notify()
	}
}

// Queue returns the pending operations in replay order.
func (s *Store) Queue() queue.Queue {
	s.mu.Lock()
	defer s.mu.Unlock()

	return queue.Queue(s.state.Sync.Queue.Items())
}

// PendingConflict returns the conflict awaiting resolution, if any.
func (s *Store) PendingConflict() *merge.Conflict {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.UI.MergeConflict == nil {
		return nil
	}

	c := *s.state.UI.MergeConflict

	return &c
}

// ForceOffline reports whether the user has forced offline mode.
func (s *Store) ForceOffline() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state.UI.ForceOffline
}

// CardByID returns a copy of a card.
func (s *Store) CardByID(id string) (models.Card, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.state.Cards.ByID[id]

	return c.Clone(), ok
}

// ListByID returns a copy of a list.
func (s *Store) ListByID(id string) (models.List, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.state.Lists.ByID[id]

	return l.Clone(), ok
}

// AddList creates a list at the end of the board.
func (s *Store) AddList(title string) (models.List, error) {
	title, err := models.ValidateTitle(title)
	if err != nil {
		return models.List{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l := models.List{
		ID:             s.newID(),
		Title:          title,
		CardIDs:        []string{},
		LastModifiedAt: s.now(),
	}

	if err := s.commit(ListAdd{List: l}, queue.ListCreate, queue.ListCreatePayload{List: l}, queue.Base{}); err != nil {
		return models.List{}, err
	}

	return l, nil
}

// RenameList sets a list's title.
func (s *Store) RenameList(id, title string) error {
	title, err := models.ValidateTitle(title)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.state.Lists.ByID[id]
	if !ok {
		return fmt.Errorf("list %s: %w", id, kerrors.ErrNotFound)
	}

	return s.commit(ListRename{ID: id, Title: title}, queue.ListUpdate,
		queue.ListUpdatePayload{ID: id, Patch: queue.ListPatch{Title: &title}, BaseVersion: l.Version},
		listBase(l))
}

// ArchiveList sets a list's archived flag.
func (s *Store) ArchiveList(id string, archived bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.state.Lists.ByID[id]
	if !ok {
		return fmt.Errorf("list %s: %w", id, kerrors.ErrNotFound)
	}

	return s.commit(ListArchive{ID: id, Archived: archived}, queue.ListUpdate,
		queue.ListUpdatePayload{ID: id, Patch: queue.ListPatch{Archived: &archived}, BaseVersion: l.Version},
		listBase(l))
}

// NewCard is the input for AddCard.
type NewCard struct {
	ListID      string
	Title       string
	Description string
	Tags        []string
}

// AddCard creates a card at the end of a list.
func (s *Store) AddCard(in NewCard) (models.Card, error) {
	title, err := models.ValidateTitle(in.Title)
	if err != nil {
		return models.Card{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.Lists.ByID[in.ListID]; !ok {
		return models.Card{}, fmt.Errorf("list %s: %w", in.ListID, kerrors.ErrNotFound)
	}

	c := models.Card{
		ID:             s.newID(),
		ListID:         in.ListID,
		Title:          title,
		Description:    in.Description,
		Tags:           models.ValidateTags(in.Tags),
		LastModifiedAt: s.now(),
	}

	if err := s.commit(CardAdd{Card: c}, queue.CardCreate, queue.CardCreatePayload{Card: c}, queue.Base{}); err != nil {
		return models.Card{}, err
	}

	return c, nil
}

// UpdateCard patches a card's fields.
func (s *Store) UpdateCard(id string, patch queue.CardPatch) error {
	if patch.Title != nil {
		title, err := models.ValidateTitle(*patch.Title)
		if err != nil {
			return err
		}

		patch.Title = &title
	}

	if patch.Tags != nil {
		tags := models.ValidateTags(*patch.Tags)
		patch.Tags = &tags
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.state.Cards.ByID[id]
	if !ok {
		return fmt.Errorf("card %s: %w", id, kerrors.ErrNotFound)
	}

	if patch.ListID != nil {
		if _, ok := s.state.Lists.ByID[*patch.ListID]; !ok {
			return fmt.Errorf("list %s: %w", *patch.ListID, kerrors.ErrNotFound)
		}
	}

	return s.commit(CardUpdate{ID: id, Patch: patch}, queue.CardUpdate,
		queue.CardUpdatePayload{ID: id, Patch: patch, BaseVersion: c.Version},
		cardBase(c))
}

// DeleteCard removes a card.
func (s *Store) DeleteCard(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.state.Cards.ByID[id]
	if !ok {
		return fmt.Errorf("card %s: %w", id, kerrors.ErrNotFound)
	}

	return s.commit(CardDelete{ID: id}, queue.CardDelete,
		queue.CardDeletePayload{ID: id, BaseVersion: c.Version},
		cardBase(c))
}

// MoveCard moves a card to index within a list. The index is clamped to
// the destination's bounds.
func (s *Store) MoveCard(cardID, toListID string, toIndex int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.state.Cards.ByID[cardID]
	if !ok {
		return fmt.Errorf("card %s: %w", cardID, kerrors.ErrNotFound)
	}

	to, ok := s.state.Lists.ByID[toListID]
	if !ok {
		return fmt.Errorf("list %s: %w", toListID, kerrors.ErrNotFound)
	}

	n := len(to.CardIDs)
	if c.ListID == toListID {
		n--
	}

	idx := ClampIndex(toIndex, n)

	return s.commit(CardMove{CardID: cardID, ToListID: toListID, ToIndex: idx}, queue.CardMove,
		queue.CardMovePayload{
			CardID:          cardID,
			FromListID:      c.ListID,
			ToListID:        toListID,
			ToIndex:         idx,
			BaseCardVersion: c.Version,
		},
		cardBase(c))
}

// SelectCard opens a card.
func (s *Store) SelectCard(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.state.Cards.ByID[id]; !ok {
		return fmt.Errorf("card %s: %w", id, kerrors.ErrNotFound)
	}

	s.apply(UISelectCard{ID: id})
	s.save()

	return nil
}

// CloseModal clears the selection.
func (s *Store) CloseModal() { s.Dispatch(UICloseModal{}) }

// ClearError dismisses the sync error.
func (s *Store) ClearError() { s.Dispatch(UIClearError{}) }

// SetForceOffline toggles the offline override.
func (s *Store) SetForceOffline(on bool) { s.Dispatch(UIForceOffline{On: on}) }

// Undo restores the board before the last action. Undo only changes
// local state; nothing is queued. It reports whether anything changed.
func (s *Store) Undo() bool {
	return s.step(Undo{}, func(st State) bool { return st.Undo.CanUndo() })
}

// Redo reapplies the last undone action. It reports whether anything
// changed.
func (s *Store) Redo() bool {
	return s.step(Redo{}, func(st State) bool { return st.Undo.CanRedo() })
}

func (s *Store) step(a Action, can func(State) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !can(s.state) {
		return false
	}

	s.apply(a)
	s.save()

	return true
}

// commit runs the undo-push, transition, enqueue, persist sequence of a
// user action. Callers hold mu.
func (s *Store) commit(a Action, typ queue.Type, payload any, base queue.Base) error {
	now := s.now()

	op, err := queue.New(s.newID(), typ, payload, base, now)
	if err != nil {
		return err
	}

	s.state = Reduce(s.state, UndoPush{}, now)
	s.state = Reduce(s.state, a, now)
	s.state = Reduce(s.state, SyncEnqueue{Op: op}, now)
	s.save()
	s.notify()

	s.logger.Debug("queued operation",
		slog.String("op", op.ID),
		slog.String("type", string(op.Type)),
		slog.Int("pending", s.state.Sync.Queue.Len()),
	)

	return nil
}

func (s *Store) apply(a Action) {
	s.state = Reduce(s.state, a, s.now())
}

// save writes both blobs. Failures are logged: a storage error must not
// undo a transition the user already sees.
func (s *Store) save() {
	if s.persist == nil {
		return
	}

	if err := s.persist.SaveJSON(BoardKey, s.state); err != nil {
		s.logger.Error("persisting board state", slog.String("error", err.Error()))
	}

	q := s.state.Sync.Queue
	if q == nil {
		q = queue.Queue{}
	}

	if err := s.persist.SaveJSON(QueueKey, q); err != nil {
		s.logger.Error("persisting sync queue", slog.String("error", err.Error()))
	}
}

func (s *Store) notify() {
	select {
	case s.changed <- struct{}{}:
	default:
	}
}

func listBase(l models.List) queue.Base {
	l = l.Clone()
	return queue.Base{BaseVersion: l.Version, List: &l}
}

func cardBase(c models.Card) queue.Base {
	c = c.Clone()
	return queue.Base{BaseVersion: c.Version, Card: &c}
}
