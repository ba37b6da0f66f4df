package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vindennt/gus-marketplace/internal/models"
	"github.com/vindennt/gus-marketplace/internal/session"
)

func TestMarketplace_Refresh(t *testing.T) {
	api := &fakeAPI{listings: sample()}
	m, _ := newMarket(t, api)

	require.NoError(t, m.Refresh(context.Background()))
	assert.Len(t, m.Listings(), 4)
	assert.False(t, m.Loading())
	assert.NoError(t, m.Err())

	api.listFn = func(context.Context) ([]models.Listing, error) { return nil, errBoom }
	assert.ErrorIs(t, m.Refresh(context.Background()), errBoom)
	assert.Len(t, m.Listings(), 4, "previous listings kept on failure")
	assert.ErrorIs(t, m.Err(), errBoom)
}

func TestMarketplace_StaleRefreshDiscarded(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	calls := 0

	api := &fakeAPI{}
	api.listFn = func(ctx context.Context) ([]models.Listing, error) {
		calls++
		if calls == 1 {
			close(entered)
			<-release
			return []models.Listing{{ID: "old"}}, nil
		}
		return []models.Listing{{ID: "new"}}, nil
	}
	m, _ := newMarket(t, api)

	done := make(chan error, 1)
	go func() { done <- m.Refresh(context.Background()) }()
	<-entered

	require.NoError(t, m.Refresh(context.Background()))
	close(release)
	require.NoError(t, <-done)

	assert.Equal(t, []string{"new"}, ids(m.Listings()))
}

func TestMarketplace_CloseCancelsPending(t *testing.T) {
	entered := make(chan struct{})
	api := &fakeAPI{listings: sample()}
	api.listFn = func(ctx context.Context) ([]models.Listing, error) {
		close(entered)
		<-ctx.Done()
		return []models.Listing{{ID: "late"}}, ctx.Err()
	}
	m, _ := newMarket(t, api)

	done := make(chan error, 1)
	go func() { done <- m.Refresh(context.Background()) }()
	<-entered
	m.Close()

	select {
	case err := <-done:
		assert.NoError(t, err, "late result after close is dropped")
	case <-time.After(5 * time.Second):
		t.Fatal("refresh did not return after Close")
	}
	assert.Empty(t, m.Listings())
	assert.ErrorIs(t, m.Refresh(context.Background()), ErrClosed)
	m.Close()
}

func TestMarketplace_Visible(t *testing.T) {
	api := &fakeAPI{listings: sample()}
	m, store := newMarket(t, api)
	require.NoError(t, m.Refresh(context.Background()))

	err := m.ToggleMyListings()
	assert.ErrorIs(t, err, session.ErrLoginRequired)
	assert.EqualError(t, err, "Please log in to view your listings.")
	assert.False(t, m.Filter().ShowMyListingsOnly)

	signIn(store, aliceEmail)
	require.NoError(t, m.ToggleMyListings())
	assert.Equal(t, []string{"1", "3"}, ids(m.Visible()))

	m.SetPriceSort(SortHigh)
	assert.Equal(t, []string{"1", "3"}, ids(m.Visible()))
	m.CyclePriceSort()
	assert.Equal(t, []string{"3", "1"}, ids(m.Visible()))

	store.Clear()
	assert.False(t, m.Filter().ShowMyListingsOnly, "sign out resets the my-listings toggle")
	assert.Len(t, m.Visible(), 4)

	m.SetCategory(models.CategoryElectronics)
	assert.Equal(t, []string{"4"}, ids(m.Visible()))
	m.ClearFilters()
	assert.Equal(t, FilterState{}, m.Filter())
}

func TestMarketplace_Delete(t *testing.T) {
	t.Run("signed out", func(t *testing.T) {
		m, _ := newMarket(t, &fakeAPI{})
		assert.ErrorIs(t, m.Delete(context.Background(), "1"), session.ErrLoginRequired)
	})

	t.Run("owner deletes and list refetches", func(t *testing.T) {
		api := &fakeAPI{listings: sample()}
		api.deleteFn = func(id string) error {
			api.mu.Lock()
			defer api.mu.Unlock()
			kept := api.listings[:0]
			for _, l := range api.listings {
				if l.ID != id {
					kept = append(kept, l)
				}
			}
			api.listings = kept
			return nil
		}
		m, store := newMarket(t, api)
		signIn(store, aliceEmail)
		require.NoError(t, m.Refresh(context.Background()))

		require.NoError(t, m.Delete(context.Background(), "1"))
		assert.Equal(t, []string{"2", "3", "4"}, ids(m.Listings()))
		assert.Equal(t, 2, api.listCalls())
		assert.Contains(t, api.tokens, "tok-"+aliceEmail)
	})

	t.Run("rejected delete leaves the list", func(t *testing.T) {
		api := &fakeAPI{listings: sample()}
		api.deleteFn = func(string) error { return errors.New("failed to delete listing: status 403") }
		m, store := newMarket(t, api)
		signIn(store, bobEmail)
		require.NoError(t, m.Refresh(context.Background()))

		err := m.Delete(context.Background(), "1")
		assert.ErrorIs(t, err, ErrDeleteRejected)
		assert.EqualError(t, err, "Could not delete listing. Only owners can delete their listings.")
		assert.Len(t, m.Listings(), 4)
		assert.Equal(t, 1, api.listCalls(), "no refetch after failure")
	})
}

func TestMarketplace_CanDelete(t *testing.T) {
	m, store := newMarket(t, &fakeAPI{})
	desk := sample()[0]

	assert.False(t, m.CanDelete(desk))
	signIn(store, bobEmail)
	assert.False(t, m.CanDelete(desk))
	signIn(store, aliceEmail)
	assert.True(t, m.CanDelete(desk))
	signIn(store, adminEmail)
	assert.True(t, m.CanDelete(desk))
}

func TestMarketplace_Watch(t *testing.T) {
	api := &fakeAPI{listings: sample()}
	api.watchFn = func(ctx context.Context, fn func(models.ListingEvent)) error {
		fn(models.ListingEvent{Type: models.EventWelcome})
		fn(models.ListingEvent{Type: models.EventListingsChanged, Action: models.ActionCreated, ID: "5"})
		fn(models.ListingEvent{Type: models.EventListingsChanged, Action: models.ActionDeleted, ID: "5"})
		return nil
	}
	m, _ := newMarket(t, api)

	var actions []string
	require.NoError(t, m.Watch(context.Background(), func(ev models.ListingEvent) {
		actions = append(actions, ev.Action)
	}))
	assert.Equal(t, 2, api.listCalls(), "welcome does not refetch")
	assert.Equal(t, []string{models.ActionCreated, models.ActionDeleted}, actions)
	assert.Len(t, m.Listings(), 4)
}

func TestMarketplace_WatchStopsOnClose(t *testing.T) {
	m, _ := newMarket(t, &fakeAPI{})

	done := make(chan error, 1)
	go func() { done <- m.Watch(context.Background(), nil) }()
	m.Close()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not stop after Close")
	}
}
