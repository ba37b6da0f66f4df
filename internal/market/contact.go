package market

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/vindennt/gus-marketplace/internal/models"
)

var (
	ErrSelfContact    = errors.New("You cannot contact yourself about your own listing.")
	ErrEmptyMessage   = errors.New("Please enter a message.")
	ErrSendInProgress = errors.New("a message is already being sent")
	ErrContactClosed  = errors.New("contact form is not open")
)

const defaultBuyerName = "Buyer"

// ContactError is a send failure rewritten for display. Err is the original
type ContactError struct {
	Message string
	Err     error
}

func (e *ContactError) Error() string { return e.Message }
func (e *ContactError) Unwrap() error { return e.Err }

// FriendlyContactError maps email-service failures to something a buyer can act on
func FriendlyContactError(err error) *ContactError {
	if err == nil {
		return nil
	}
	text := strings.TrimSpace(err.Error())

	var msg string
	switch {
	case strings.Contains(text, "Domain not verified"), strings.Contains(text, "DNS"):
		msg = "Email service is not fully configured. Please contact support."
	case strings.Contains(text, "Authentication failed"), strings.Contains(text, "401"):
		msg = "Email service authentication failed. Please contact support."
	case strings.Contains(text, "403"):
		msg = "Domain not verified. Please verify DNS settings."
	case text == "":
		msg = "Failed to send message. Please try again."
	default:
		msg = text
	}
	return &ContactError{Message: msg, Err: err}
}

// Contact is the message composer for one listing
type Contact struct {
	m *Marketplace

	mu      sync.Mutex
	listing *models.Listing
	sending bool
	message string
	err     error
}

func (m *Marketplace) NewContact() *Contact {
	return &Contact{m: m}
}

// Open starts composing to the seller of l
func (c *Contact) Open(l models.Listing) error {
	if err := c.m.session.Require("contact the seller"); err != nil {
		return err
	}
	if c.m.session.IsOwner(l) {
		return ErrSelfContact
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.listing = &l
	c.message = ""
	c.err = nil
	return nil
}

func (c *Contact) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listing != nil
}

func (c *Contact) Sending() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sending
}

// Err is the last send failure, already rewritten
func (c *Contact) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Draft is the message kept after a failed send
func (c *Contact) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

func (c *Contact) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sending {
		return
	}
	c.listing = nil
	c.message = ""
	c.err = nil
}

// Send posts message to the seller. Success clears and closes the composer.
// Failures keep it open with the draft and a *ContactError
func (c *Contact) Send(ctx context.Context, message string) error {
	if err := c.m.session.Require("contact the seller"); err != nil {
		return err
	}

	c.mu.Lock()
	if c.sending {
		c.mu.Unlock()
		return ErrSendInProgress
	}
	if c.listing == nil {
		c.mu.Unlock()
		return ErrContactClosed
	}
	c.message = message
	if strings.TrimSpace(message) == "" {
		c.err = ErrEmptyMessage
		c.mu.Unlock()
		return ErrEmptyMessage
	}
	c.sending = true
	c.err = nil
	id := c.listing.ID
	c.mu.Unlock()

	buyer := c.m.session.Email()
	if buyer == "" {
		buyer = defaultBuyerName
	}

	reqCtx, cancel := c.m.bind(ctx)
	_, err := c.m.api.ContactSeller(reqCtx, c.m.session.Token(), id, models.ContactRequest{
		BuyerName: buyer,
		Message:   message,
	})
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.sending = false
	if err != nil {
		ce := FriendlyContactError(err)
		c.err = ce
		return ce
	}
	c.listing = nil
	c.message = ""
	return nil
}
