// Package db holds the listings backends the proxy API forwards to.
package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vindennt/gus-marketplace/internal/models"
)

var (
	ErrNotFound    = errors.New("listing not found")
	ErrUnsupported = errors.New("operation not supported by this backend")
)

// BackendError is a non-2xx answer from an upstream backend. Body is the raw
// response text, passed on to the caller as the error message
type BackendError struct {
	Status int
	Body   string
}

func (e *BackendError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.Status)
	}
	return strings.TrimSpace(e.Body)
}

// Store is the persistence contract behind /api/gus
type Store interface {
	ListListings(ctx context.Context) ([]models.Listing, error)
	GetListing(ctx context.Context, id string) (*models.Listing, error)
	CreateListing(ctx context.Context, listing models.Listing, image *models.Image) (*models.Listing, error)
	DeleteListing(ctx context.Context, id string) error
	ContactSeller(ctx context.Context, id string, req models.ContactRequest) (*models.ContactAck, error)
	UploadURL(ctx context.Context, ext string) (*models.UploadURL, error)
}

// Images is where stores that own persistence put listing photos
type Images interface {
	Upload(ctx context.Context, image *models.Image) (string, error)
	Remove(ctx context.Context, url string) error
	SignedUploadURL(ctx context.Context, ext string) (*models.UploadURL, error)
}

// Contact messages land in contact_messages; a separate mailer delivers them
const queuedMessage = "Message queued for the seller"

func fieldsOf(l models.Listing) models.ListingFields {
	return models.ListingFields{
		UserName:    l.UserName,
		Title:       l.Title,
		Description: l.Description,
		Category:    l.Category,
		Condition:   l.Condition,
		Price:       l.Price,
		GroupMeLink: l.GroupMeLink,
	}
}
