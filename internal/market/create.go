package market

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/vindennt/gus-marketplace/internal/listings"
	"github.com/vindennt/gus-marketplace/internal/models"
)

var (
	ErrSubmitInProgress = errors.New("a submission is already in progress")
	ErrFormClosed       = errors.New("create form is not open")
	ErrInvalidPrice     = errors.New("price may only contain digits and one decimal point")
)

type CreateState int

const (
	Closed CreateState = iota
	Open
	Validating
	Submitting
)

func (s CreateState) String() string {
	switch s {
	case Open:
		return "open"
	case Validating:
		return "validating"
	case Submitting:
		return "submitting"
	default:
		return "closed"
	}
}

// Preview is a displayable copy of a selected image that must be revoked
type Preview interface {
	Location() string
	Revoke() error
}

type Previewer interface {
	Preview(image *models.Image) (Preview, error)
}

// TempPreviewer writes previews to temp files. Revoking deletes the file
type TempPreviewer struct {
	Dir string
}

func (p TempPreviewer) Preview(image *models.Image) (Preview, error) {
	f, err := os.CreateTemp(p.Dir, "gus-preview-*"+filepath.Ext(image.Filename))
	if err != nil {
		return nil, fmt.Errorf("create preview: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(image.Data); err != nil {
		os.Remove(f.Name())
		return nil, fmt.Errorf("write preview: %w", err)
	}
	return tempPreview(f.Name()), nil
}

type tempPreview string

func (t tempPreview) Location() string { return string(t) }

func (t tempPreview) Revoke() error {
	err := os.Remove(string(t))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// CreateForm drives the create-listing dialog
type CreateForm struct {
	m         *Marketplace
	previewer Previewer

	mu      sync.Mutex
	state   CreateState
	fields  models.ListingFields
	image   *models.Image
	preview Preview
	err     error
}

func (m *Marketplace) NewCreateForm(previewer Previewer) *CreateForm {
	if previewer == nil {
		previewer = TempPreviewer{}
	}
	return &CreateForm{m: m, previewer: previewer}
}

// Open shows the form, pre-filling the owner with the session email
func (f *CreateForm) Open() error {
	if err := f.m.session.Require("create a listing"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Closed {
		f.state = Open
		f.err = nil
	}
	if f.fields.UserName == "" {
		f.fields.UserName = f.m.session.Email()
	}
	return nil
}

// Close hides the form, drops the preview and the error. Field values stay
func (f *CreateForm) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state == Submitting {
		return
	}
	f.revokePreview()
	f.state = Closed
	f.err = nil
}

func (f *CreateForm) State() CreateState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *CreateForm) Fields() models.ListingFields {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fields
}

// Err is the last validation or submission error shown in the form
func (f *CreateForm) Err() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.err
}

func (f *CreateForm) set(fn func(*models.ListingFields)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(&f.fields)
}

func (f *CreateForm) SetTitle(v string)       { f.set(func(x *models.ListingFields) { x.Title = v }) }
func (f *CreateForm) SetDescription(v string) { f.set(func(x *models.ListingFields) { x.Description = v }) }
func (f *CreateForm) SetGroupMeLink(v string) { f.set(func(x *models.ListingFields) { x.GroupMeLink = v }) }

func (f *CreateForm) SetCategory(v models.Category) {
	f.set(func(x *models.ListingFields) { x.Category = v })
}

func (f *CreateForm) SetCondition(v models.Condition) {
	f.set(func(x *models.ListingFields) { x.Condition = v })
}

// SetPrice accepts digits with at most one dot, like the price input.
// Anything else is rejected and the field keeps its value
func (f *CreateForm) SetPrice(v string) error {
	if !listings.ValidPriceInput(v) {
		return ErrInvalidPrice
	}
	f.set(func(x *models.ListingFields) { x.Price = v })
	return nil
}

// SelectImage stores the raw image and replaces the preview. If the preview
// cannot be made the previous selection stays as it was
func (f *CreateForm) SelectImage(image *models.Image) error {
	if image == nil {
		return nil
	}
	if err := f.m.session.Require("upload an image"); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	preview, err := f.previewer.Preview(image)
	if err != nil {
		return err
	}
	f.revokePreview()
	f.image = image
	f.preview = preview
	return nil
}

// PreviewLocation is where the current preview can be viewed, or ""
func (f *CreateForm) PreviewLocation() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.preview == nil {
		return ""
	}
	return f.preview.Location()
}

// revokePreview expects f.mu held
func (f *CreateForm) revokePreview() {
	if f.preview == nil {
		return
	}
	if err := f.preview.Revoke(); err != nil {
		f.m.logger.Debug("revoke preview", zap.Error(err))
	}
	f.preview = nil
}

// Submit validates and creates the listing. On success the form is reset and
// closed and the list refetched. On failure the form stays open with its
// values and the error is kept for display
func (f *CreateForm) Submit(ctx context.Context) (*models.Listing, error) {
	if err := f.m.session.Require("create a listing"); err != nil {
		return nil, err
	}

	f.mu.Lock()
	switch f.state {
	case Submitting, Validating:
		f.mu.Unlock()
		return nil, ErrSubmitInProgress
	case Closed:
		f.mu.Unlock()
		return nil, ErrFormClosed
	}

	f.state = Validating
	fields := f.fields
	if fields.UserName == "" {
		fields.UserName = f.m.session.Email()
	}
	image := f.image
	if err := listings.Validate(fields, image); err != nil {
		f.state = Open
		f.err = err
		f.mu.Unlock()
		return nil, err
	}
	f.state = Submitting
	f.err = nil
	f.mu.Unlock()

	reqCtx, cancel := f.m.bind(ctx)
	created, err := f.m.api.Create(reqCtx, f.m.session.Token(), fields, image)
	cancel()

	f.mu.Lock()
	if err != nil {
		f.state = Open
		f.err = err
		f.mu.Unlock()
		return nil, err
	}
	f.revokePreview()
	f.fields = models.ListingFields{UserName: f.m.session.Email()}
	f.image = nil
	f.state = Closed
	f.err = nil
	f.mu.Unlock()

	if err := f.m.Refresh(ctx); err != nil && !errors.Is(err, ErrClosed) {
		f.m.logger.Warn("refresh after create", zap.Error(err))
	}
	return created, nil
}
