package db

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/supabase-community/postgrest-go"
	"go.uber.org/zap"

	"github.com/vindennt/gus-marketplace/internal/models"
)

const (
	listingsTable = "listings"
	contactTable  = "contact_messages"
)

// listingRow is the column layout shared by the postgrest and postgres stores
type listingRow struct {
	ID          string     `json:"id,omitempty"`
	UserName    string     `json:"user_name"`
	UserID      string     `json:"user_id,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Condition   string     `json:"condition"`
	Price       string     `json:"price"`
	ImageURL    string     `json:"image_url,omitempty"`
	GroupMeLink string     `json:"groupme_link,omitempty"`
	CreatedAt   *time.Time `json:"created_at,omitempty"`
}

func rowFrom(l models.Listing) listingRow {
	return listingRow{
		UserName:    l.UserName,
		UserID:      l.UserID,
		Title:       l.Title,
		Description: l.Description,
		Category:    string(l.Category),
		Condition:   string(l.Condition),
		Price:       l.Price,
		ImageURL:    l.ImageURL,
		GroupMeLink: l.GroupMeLink,
	}
}

func (r listingRow) listing() models.Listing {
	return models.Listing{
		ID:          r.ID,
		UserName:    r.UserName,
		UserID:      r.UserID,
		Title:       r.Title,
		Description: r.Description,
		Category:    models.Category(r.Category),
		Condition:   models.Condition(r.Condition),
		Price:       r.Price,
		ImageURL:    r.ImageURL,
		GroupMeLink: r.GroupMeLink,
		CreatedAt:   r.CreatedAt,
	}
}

type contactRow struct {
	ListingID   string `json:"listing_id"`
	SellerEmail string `json:"seller_email"`
	BuyerName   string `json:"buyer_name"`
	Message     string `json:"message"`
	Sent        bool   `json:"sent"`
}

// Postgrest keeps listings in Supabase tables through PostgREST
type Postgrest struct {
	restURL   string
	secretKey string
	images    Images
	logger    *zap.Logger
}

func NewPostgrest(supabaseURL, secretKey string, images Images, logger *zap.Logger) *Postgrest {
	return &Postgrest{
		restURL:   strings.TrimRight(supabaseURL, "/") + "/rest/v1",
		secretKey: secretKey,
		images:    images,
		logger:    logger,
	}
}

// systemClient authenticates with the secret key. The API layer has already
// checked the caller, so row level security is bypassed on purpose
func (p *Postgrest) systemClient() *postgrest.Client {
	client := postgrest.NewClient(p.restURL, "", map[string]string{
		"apikey": p.secretKey,
	})
	client.SetAuthToken(p.secretKey)
	return client
}

func (p *Postgrest) ListListings(ctx context.Context) ([]models.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, _, err := p.systemClient().From(listingsTable).
		Select("*", "", false).
		Order("created_at", &postgrest.OrderOpts{Ascending: false}).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	return decodeRows(resp)
}

func (p *Postgrest) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, _, err := p.systemClient().From(listingsTable).
		Select("*", "", false).
		Eq("id", id).
		Execute()
	if err != nil {
		return nil, fmt.Errorf("get listing %s: %w", id, err)
	}

	rows, err := decodeRows(resp)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func (p *Postgrest) CreateListing(ctx context.Context, listing models.Listing, image *models.Image) (*models.Listing, error) {
	if image != nil {
		url, err := p.images.Upload(ctx, image)
		if err != nil {
			return nil, err
		}
		listing.ImageURL = url
	}
	created, err := p.insertListing(ctx, listing)
	if err != nil {
		p.discardImage(listing.ImageURL)
		return nil, err
	}
	p.logger.Info("listing created", zap.String("id", created.ID), zap.String("owner", created.UserName))
	return created, nil
}

// discardImage removes an upload whose row never made it in
func (p *Postgrest) discardImage(url string) {
	if url == "" {
		return
	}
	// The request context may be the reason the insert failed
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := p.images.Remove(ctx, url); err != nil {
		p.logger.Warn("remove orphaned image", zap.String("url", url), zap.Error(err))
	}
}

func (p *Postgrest) insertListing(ctx context.Context, listing models.Listing) (*models.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	resp, _, err := p.systemClient().From(listingsTable).
		Insert(rowFrom(listing), false, "", "representation", "").
		Execute()
	if err != nil {
		return nil, fmt.Errorf("insert listing: %w", err)
	}

	rows, err := decodeRows(resp)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("insert listing: no row returned")
	}
	return &rows[0], nil
}

func (p *Postgrest) DeleteListing(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	resp, _, err := p.systemClient().From(listingsTable).
		Delete("representation", "").
		Eq("id", id).
		Execute()
	if err != nil {
		return fmt.Errorf("delete listing %s: %w", id, err)
	}

	// PostgREST answers an empty array when nothing matched
	if strings.TrimSpace(string(resp)) == "[]" {
		return ErrNotFound
	}
	return nil
}

// ContactSeller queues the message in contact_messages for the mailer
func (p *Postgrest) ContactSeller(ctx context.Context, id string, msg models.ContactRequest) (*models.ContactAck, error) {
	listing, err := p.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}

	row := contactRow{
		ListingID:   listing.ID,
		SellerEmail: listing.UserName,
		BuyerName:   msg.BuyerName,
		Message:     msg.Message,
	}
	if _, _, err := p.systemClient().From(contactTable).Insert(row, false, "", "minimal", "").Execute(); err != nil {
		return nil, fmt.Errorf("queue contact message: %w", err)
	}
	return &models.ContactAck{Success: true, Message: queuedMessage}, nil
}

func (p *Postgrest) UploadURL(ctx context.Context, ext string) (*models.UploadURL, error) {
	return p.images.SignedUploadURL(ctx, ext)
}

func decodeRows(raw []byte) ([]models.Listing, error) {
	var rows []listingRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("decode listings: %w", err)
	}
	out := make([]models.Listing, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.listing())
	}
	return out, nil
}
