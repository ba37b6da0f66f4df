package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/vindennt/gus-marketplace/internal/auth"
	"github.com/vindennt/gus-marketplace/internal/config"
	"github.com/vindennt/gus-marketplace/internal/db"
	"github.com/vindennt/gus-marketplace/internal/listings"
	"github.com/vindennt/gus-marketplace/internal/models"
)

const (
	alice = "alice@augustana.edu"
	bob   = "bob@augustana.edu"
	admin = "admin@augustana.edu"
)

// memStore is an in-memory db.Store
type memStore struct {
	mu       sync.Mutex
	listings []models.Listing
	contacts []models.ContactRequest
	images   []*models.Image
	nextID   int
	failWith error
}

func (m *memStore) ListListings(context.Context) ([]models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	return append([]models.Listing{}, m.listings...), nil
}

func (m *memStore) GetListing(_ context.Context, id string) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, l := range m.listings {
		if l.ID == id {
			return &l, nil
		}
	}
	return nil, db.ErrNotFound
}

func (m *memStore) CreateListing(_ context.Context, l models.Listing, image *models.Image) (*models.Listing, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	m.nextID++
	l.ID = "id-" + string(rune('0'+m.nextID))
	l.ImageURL = "https://cdn.test/" + image.Filename
	m.listings = append(m.listings, l)
	m.images = append(m.images, image)
	return &l, nil
}

func (m *memStore) DeleteListing(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, l := range m.listings {
		if l.ID == id {
			m.listings = append(m.listings[:i], m.listings[i+1:]...)
			return nil
		}
	}
	return db.ErrNotFound
}

func (m *memStore) ContactSeller(_ context.Context, _ string, req models.ContactRequest) (*models.ContactAck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWith != nil {
		return nil, m.failWith
	}
	m.contacts = append(m.contacts, req)
	return &models.ContactAck{Success: true, Message: "sent"}, nil
}

func (m *memStore) UploadURL(_ context.Context, ext string) (*models.UploadURL, error) {
	return &models.UploadURL{UploadURL: "https://cdn.test/sign" + ext, FileURL: "https://cdn.test/file" + ext}, nil
}

// bearerAuth treats the bearer token as the caller's email
type bearerAuth struct{}

func (bearerAuth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		email := auth.BearerToken(r)
		if email == "" {
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), models.User{ID: "uid-" + email, Email: email})))
	})
}

func (bearerAuth) OptionalUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if email := auth.BearerToken(r); email != "" {
			r = r.WithContext(auth.WithUser(r.Context(), models.User{ID: "uid-" + email, Email: email}))
		}
		next.ServeHTTP(w, r)
	})
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.ListingEvent
}

func (p *recordingPublisher) Changed(_ context.Context, action, id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, models.ListingEvent{Type: models.EventListingsChanged, Action: action, ID: id})
	return nil
}

type fixture struct {
	store *memStore
	pub   *recordingPublisher
	h     http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.Defaults()
	cfg.AdminEmail = admin
	cfg.ContactRatePerMinute = 3

	f := &fixture{
		store: &memStore{listings: []models.Listing{
			{ID: "a1", UserName: alice, Title: "Lamp", Price: "10", Category: models.CategoryFurniture, Condition: models.ConditionGood},
		}},
		pub: &recordingPublisher{},
	}

	mux := http.NewServeMux()
	RegisterRoutes(mux, Deps{
		Config:    cfg,
		Store:     f.store,
		Auth:      bearerAuth{},
		Publisher: f.pub,
		Logger:    zap.NewNop(),
	})
	f.h = Wrap(mux, cfg, zap.NewNop())
	return f
}

func (f *fixture) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func errorOf(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body models.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error
}

func createRequest(t *testing.T, fields models.ListingFields, image *models.Image) *http.Request {
	t.Helper()
	body, ct, err := listings.EncodeListingForm(fields, image)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/gus/create", body)
	req.Header.Set("Content-Type", ct)
	return req
}

func desk(owner string) models.ListingFields {
	return models.ListingFields{
		UserName:    owner,
		Title:       "Desk",
		Description: "Oak desk",
		Category:    models.CategoryFurniture,
		Condition:   models.ConditionGood,
		Price:       "45",
	}
}

func jpeg() *models.Image {
	return &models.Image{Filename: "desk.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff, 0xe0}}
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/health/ping", nil), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"pong"}`, rec.Body.String())
}

func TestListListings(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/gus", nil), "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Cache-Control"), "no-store")

	var got []models.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 1)

	f.store.failWith = &db.BackendError{Status: http.StatusBadGateway, Body: "upstream down"}
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/gus", nil), "")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "upstream down", errorOf(t, rec))
}

func TestCreateListing(t *testing.T) {
	f := newFixture(t)

	rec := f.do(createRequest(t, desk(alice), jpeg()), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The claimed owner is ignored
	rec = f.do(createRequest(t, desk(bob), jpeg()), alice)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var created models.Listing
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, alice, created.UserName)
	assert.Equal(t, "uid-"+alice, created.UserID)
	assert.Equal(t, "https://cdn.test/desk.jpg", created.ImageURL)
	assert.Equal(t, "image/jpeg", f.store.images[0].ContentType)

	require.Len(t, f.pub.events, 1)
	assert.Equal(t, models.ActionCreated, f.pub.events[0].Action)
	assert.Equal(t, created.ID, f.pub.events[0].ID)
}

func TestCreateListing_Validation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(createRequest(t, desk(alice), nil), alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Photo is required. Please upload an image.", errorOf(t, rec))

	fields := desk(alice)
	fields.GroupMeLink = "https://example.com/foo"
	rec = f.do(createRequest(t, fields, jpeg()), alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, errorOf(t, rec), "Invalid GroupMe link format")

	rec = f.do(createRequest(t, desk(alice), &models.Image{Filename: "notes.txt", ContentType: "text/plain", Data: []byte("hello")}), alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	assert.Empty(t, f.pub.events)
}

func TestCreateListing_TooLarge(t *testing.T) {
	f := newFixture(t)
	big := &models.Image{Filename: "big.jpg", ContentType: "image/jpeg", Data: bytes.Repeat([]byte{0xff}, maxUploadBytes+1)}
	rec := f.do(createRequest(t, desk(alice), big), alice)
	assert.Contains(t, []int{http.StatusRequestEntityTooLarge, http.StatusBadRequest}, rec.Code)
	assert.Empty(t, f.store.images)
}

func TestDeleteListing(t *testing.T) {
	tests := []struct {
		name   string
		caller string
		id     string
		status int
	}{
		{"owner", alice, "a1", http.StatusOK},
		{"admin", admin, "a1", http.StatusOK},
		{"other user", bob, "a1", http.StatusForbidden},
		{"missing", alice, "nope", http.StatusNotFound},
		{"anonymous", "", "a1", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(httptest.NewRequest(http.MethodPost, "/api/gus/delete/"+tt.id, nil), tt.caller)
			assert.Equal(t, tt.status, rec.Code)

			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"success":true}`, rec.Body.String())
				assert.Empty(t, f.store.listings)
				require.Len(t, f.pub.events, 1)
				assert.Equal(t, models.ActionDeleted, f.pub.events[0].Action)
			} else {
				assert.Len(t, f.store.listings, 1)
				assert.Empty(t, f.pub.events)
			}
		})
	}
}

func contactRequest(id, msg string) *http.Request {
	body, _ := json.Marshal(models.ContactRequest{Message: msg})
	req := httptest.NewRequest(http.MethodPost, "/api/gus/contact-seller/"+id, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestContactSeller(t *testing.T) {
	f := newFixture(t)

	rec := f.do(contactRequest("a1", "Is it still available?"), bob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.store.contacts, 1)
	assert.Equal(t, bob, f.store.contacts[0].BuyerName)

	rec = f.do(contactRequest("a1", "   "), bob)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgEmptyMessage, errorOf(t, rec))

	rec = f.do(contactRequest("a1", "hello me"), alice)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, msgSelfContact, errorOf(t, rec))

	rec = f.do(contactRequest("missing", "hi"), bob)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestContactSeller_BuyerIsCaller(t *testing.T) {
	f := newFixture(t)

	body, _ := json.Marshal(models.ContactRequest{Message: "hi", BuyerName: "dean@augustana.edu"})
	req := httptest.NewRequest(http.MethodPost, "/api/gus/contact-seller/a1", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")

	rec := f.do(req, bob)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, f.store.contacts, 1)
	assert.Equal(t, bob, f.store.contacts[0].BuyerName)
}

func TestContactSeller_BackendError(t *testing.T) {
	f := newFixture(t)
	f.store.failWith = &db.BackendError{Status: http.StatusInternalServerError, Body: "Domain not verified"}

	rec := f.do(contactRequest("a1", "hi"), bob)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Domain not verified", errorOf(t, rec))
}

func TestContactSeller_RateLimited(t *testing.T) {
	f := newFixture(t)

	codes := make([]int, 0, 4)
	for i := 0; i < 4; i++ {
		req := contactRequest("a1", "hi")
		// Spoofed forwarding headers and fresh addresses do not reset the bucket
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("203.0.113.%d", i))
		req.RemoteAddr = fmt.Sprintf("10.0.0.%d:5555", i)
		codes = append(codes, f.do(req, bob).Code)
	}
	assert.Equal(t, []int{200, 200, 200, http.StatusTooManyRequests}, codes)

	// Another user has their own bucket
	assert.Equal(t, http.StatusOK, f.do(contactRequest("a1", "hi"), admin).Code)
}

func TestListListings_Mine(t *testing.T) {
	f := newFixture(t)
	f.store.listings = append(f.store.listings,
		models.Listing{ID: "b1", UserName: bob, Title: "Bike", Price: "80", Category: models.CategoryOther, Condition: models.ConditionFair})

	decode := func(rec *httptest.ResponseRecorder) []string {
		t.Helper()
		var got []models.Listing
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		ids := make([]string, 0, len(got))
		for _, l := range got {
			ids = append(ids, l.ID)
		}
		return ids
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/gus", nil), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a1", "b1"}, decode(rec))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/gus?mine=true", nil), bob)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"b1"}, decode(rec))

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/gus?mine=true", nil), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, msgLoginForMine, errorOf(t, rec))
}

func TestUploadURL(t *testing.T) {
	f := newFixture(t)
	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/gus/upload-url?ext=.png", nil), alice)
	require.Equal(t, http.StatusOK, rec.Code)

	var u models.UploadURL
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &u))
	assert.Equal(t, "https://cdn.test/file.png", u.FileURL)
}

func TestCORS(t *testing.T) {
	cfg := config.Defaults()
	cfg.AllowedOrigins = []string{"https://gus.example.com"}
	h := corsMiddleware(cfg.AllowedOrigins, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	req := httptest.NewRequest(http.MethodOptions, "/api/gus", nil)
	req.Header.Set("Origin", "https://gus.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "https://gus.example.com", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/gus", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestUserLimiter(t *testing.T) {
	l := newUserLimiter(1)
	assert.True(t, l.Allow("Bob@augustana.edu"))
	assert.False(t, l.Allow("bob@augustana.edu"))
	assert.True(t, l.Allow(alice))

	off := newUserLimiter(0)
	for i := 0; i < 10; i++ {
		assert.True(t, off.Allow(bob))
	}
}

func TestStatusRecorder(t *testing.T) {
	rec := &statusRecorder{ResponseWriter: httptest.NewRecorder()}
	rec.Write([]byte("x"))
	assert.Equal(t, http.StatusOK, rec.status)
	assert.True(t, strings.Contains(rec.ResponseWriter.(*httptest.ResponseRecorder).Body.String(), "x"))
}
