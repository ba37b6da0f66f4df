// Package market is the client side of the marketplace: the listings view
// with its filters and the create, contact and delete workflows.
//
// A Marketplace owns a lifetime context. Every request it or its workflows
// make is derived from it, so Close cancels whatever is still in flight and
// late results are dropped instead of applied.
package market

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/vindennt/gus-marketplace/internal/models"
	"github.com/vindennt/gus-marketplace/internal/session"
)

var (
	ErrClosed         = errors.New("marketplace closed")
	ErrDeleteRejected = errors.New("Could not delete listing. Only owners can delete their listings.")
)

// API is the listings service. *listings.Client implements it
type API interface {
	List(ctx context.Context) ([]models.Listing, error)
	Create(ctx context.Context, token string, fields models.ListingFields, image *models.Image) (*models.Listing, error)
	Delete(ctx context.Context, token, id string) error
	ContactSeller(ctx context.Context, token, id string, req models.ContactRequest) (*models.ContactAck, error)
	Watch(ctx context.Context, fn func(models.ListingEvent)) error
}

type Marketplace struct {
	api     API
	session *session.Store
	logger  *zap.Logger

	ctx         context.Context
	cancel      context.CancelFunc
	unsubscribe func()

	mu       sync.Mutex
	listings []models.Listing
	filter   FilterState
	gen      uint64
	loading  bool
	lastErr  error
	closed   bool
}

func New(api API, store *session.Store, logger *zap.Logger) *Marketplace {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Marketplace{
		api:      api,
		session:  store,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		listings: []models.Listing{},
	}

	m.unsubscribe = store.Subscribe(func(ev session.Event) {
		if ev.Kind == session.SignedOut {
			m.mu.Lock()
			m.filter.ShowMyListingsOnly = false
			m.mu.Unlock()
		}
	})
	return m
}

// bind derives a request context that also ends when the marketplace closes
func (m *Marketplace) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(m.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Refresh refetches the full list. Only the newest refresh may apply its
// result; an older one that finishes late is discarded and returns nil.
// On failure the previous listings are kept
func (m *Marketplace) Refresh(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.gen++
	gen := m.gen
	m.loading = true
	m.mu.Unlock()

	ctx, cancel := m.bind(ctx)
	defer cancel()
	all, err := m.api.List(ctx)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || gen != m.gen {
		return nil
	}
	m.loading = false
	if err != nil {
		m.lastErr = err
		m.logger.Warn("refresh listings", zap.Error(err))
		return err
	}
	m.listings = all
	m.lastErr = nil
	return nil
}

// Listings returns a copy of the raw fetched list
func (m *Marketplace) Listings() []models.Listing {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.Listing(nil), m.listings...)
}

// Visible is the list after the current filters
func (m *Marketplace) Visible() []models.Listing {
	viewer := ""
	if m.session.LoggedIn() {
		viewer = m.session.Email()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return Apply(m.listings, m.filter, viewer)
}

func (m *Marketplace) Loading() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loading
}

// Err is the last refresh failure, cleared by the next successful refresh
func (m *Marketplace) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Marketplace) Filter() FilterState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.filter
}

func (m *Marketplace) updateFilter(fn func(*FilterState)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(&m.filter)
}

func (m *Marketplace) SetCategory(c models.Category) {
	m.updateFilter(func(st *FilterState) { st.Category = c })
}

func (m *Marketplace) SetPriceSort(p PriceSort) {
	m.updateFilter(func(st *FilterState) { st.PriceSort = p })
}

func (m *Marketplace) CycleCategory()  { m.updateFilter((*FilterState).CycleCategory) }
func (m *Marketplace) CyclePriceSort() { m.updateFilter((*FilterState).CyclePriceSort) }
func (m *Marketplace) ClearFilters()   { m.updateFilter((*FilterState).Clear) }

// ToggleMyListings flips the owner-only view. Signed out users are asked to log in
func (m *Marketplace) ToggleMyListings() error {
	if err := m.session.Require("view your listings"); err != nil {
		return err
	}
	m.updateFilter(func(st *FilterState) { st.ShowMyListingsOnly = !st.ShowMyListingsOnly })
	return nil
}

// CanDelete decides whether to offer delete for l. The server decides for real
func (m *Marketplace) CanDelete(l models.Listing) bool {
	return m.session.CanDelete(l)
}

// Delete removes a listing and refetches. Every failure, whatever the cause,
// is reported as ErrDeleteRejected and leaves the list untouched
func (m *Marketplace) Delete(ctx context.Context, id string) error {
	if err := m.session.Require("delete your listing"); err != nil {
		return err
	}

	reqCtx, cancel := m.bind(ctx)
	defer cancel()
	if err := m.api.Delete(reqCtx, m.session.Token(), id); err != nil {
		m.logger.Info("delete listing failed", zap.String("id", id), zap.Error(err))
		return ErrDeleteRejected
	}

	if err := m.Refresh(ctx); err != nil && !errors.Is(err, ErrClosed) {
		m.logger.Warn("refresh after delete", zap.Error(err))
	}
	return nil
}

// Watch refetches whenever the server announces a change, then calls
// onChange (if set). It blocks until ctx is done or the marketplace closes
func (m *Marketplace) Watch(ctx context.Context, onChange func(models.ListingEvent)) error {
	ctx, cancel := m.bind(ctx)
	defer cancel()

	return m.api.Watch(ctx, func(ev models.ListingEvent) {
		if ev.Type != models.EventListingsChanged {
			return
		}
		if err := m.Refresh(ctx); err != nil && ctx.Err() == nil {
			m.logger.Warn("refresh after change", zap.String("action", ev.Action), zap.Error(err))
		}
		if onChange != nil {
			onChange(ev)
		}
	})
}

// Close cancels pending requests and stops applying results. Safe to call twice
func (m *Marketplace) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.cancel()
	m.unsubscribe()
}
