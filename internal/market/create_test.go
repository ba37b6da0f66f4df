package market

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vindennt/gus-marketplace/internal/listings"
	"github.com/vindennt/gus-marketplace/internal/models"
	"github.com/vindennt/gus-marketplace/internal/session"
)

func jpeg() *models.Image {
	return &models.Image{Filename: "desk.jpg", ContentType: "image/jpeg", Data: []byte{0xff, 0xd8, 0xff, 0xe0, 'd', 'e', 's', 'k'}}
}

type fakePreview struct {
	loc     string
	revoked int
}

func (p *fakePreview) Location() string { return p.loc }
func (p *fakePreview) Revoke() error    { p.revoked++; return nil }

type fakePreviewer struct {
	made []*fakePreview
	err  error
}

func (f *fakePreviewer) Preview(image *models.Image) (Preview, error) {
	if f.err != nil {
		return nil, f.err
	}
	p := &fakePreview{loc: "preview://" + image.Filename}
	f.made = append(f.made, p)
	return p, nil
}

func fillDesk(t *testing.T, f *CreateForm) {
	t.Helper()
	f.SetTitle("Desk")
	f.SetDescription("Sturdy oak desk")
	require.NoError(t, f.SetPrice("45"))
	f.SetCategory(models.CategoryFurniture)
	f.SetCondition(models.ConditionGood)
	require.NoError(t, f.SelectImage(jpeg()))
}

func TestCreateForm_RequiresLogin(t *testing.T) {
	m, _ := newMarket(t, &fakeAPI{})
	f := m.NewCreateForm(&fakePreviewer{})

	err := f.Open()
	assert.ErrorIs(t, err, session.ErrLoginRequired)
	assert.EqualError(t, err, "Please log in to create a listing.")
	assert.Equal(t, Closed, f.State())

	assert.EqualError(t, f.SelectImage(jpeg()), "Please log in to upload an image.")
}

func TestCreateForm_Desk(t *testing.T) {
	api := &fakeAPI{listings: sample()[1:2]}
	m, store := newMarket(t, api)
	signIn(store, aliceEmail)
	require.NoError(t, m.Refresh(context.Background()))

	previews := &fakePreviewer{}
	f := m.NewCreateForm(previews)
	require.NoError(t, f.Open())
	assert.Equal(t, Open, f.State())
	assert.Equal(t, aliceEmail, f.Fields().UserName)

	fillDesk(t, f)
	assert.Equal(t, "preview://desk.jpg", f.PreviewLocation())

	created, err := f.Submit(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Desk", created.Title)

	require.Len(t, api.created, 1)
	assert.Equal(t, aliceEmail, api.created[0].UserName)
	assert.Equal(t, "45", api.created[0].Price)
	assert.Equal(t, []string{"tok-" + aliceEmail}, api.tokens)

	assert.Equal(t, Closed, f.State())
	assert.Equal(t, models.ListingFields{UserName: aliceEmail}, f.Fields(), "fields reset")
	assert.Equal(t, "", f.PreviewLocation())
	assert.Equal(t, 1, previews.made[0].revoked)

	assert.Equal(t, 2, api.listCalls(), "full list refetched")
	assert.Equal(t, []string{"new", "2"}, ids(m.Listings()))
}

func TestCreateForm_Validation(t *testing.T) {
	api := &fakeAPI{}
	m, store := newMarket(t, api)
	signIn(store, aliceEmail)

	f := m.NewCreateForm(&fakePreviewer{})
	require.NoError(t, f.Open())
	fillDesk(t, f)
	f.SetGroupMeLink("https://example.com/foo")

	_, err := f.Submit(context.Background())
	var ve *listings.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, listings.FieldGroupMeLink, ve.Field)
	assert.Equal(t, Open, f.State())
	assert.Equal(t, err, f.Err())
	assert.Empty(t, api.created, "nothing sent")
	assert.Equal(t, "Desk", f.Fields().Title, "values kept")

	f.SetGroupMeLink("https://groupme.com/contact/123")
	_, err = f.Submit(context.Background())
	require.NoError(t, err)
	assert.NoError(t, f.Err())
}

func TestCreateForm_SubmitFailureKeepsValues(t *testing.T) {
	api := &fakeAPI{}
	api.createFn = func(models.ListingFields, *models.Image) (*models.Listing, error) {
		return nil, &listings.APIError{Status: 500, Message: "Failed to upload image"}
	}
	m, store := newMarket(t, api)
	signIn(store, aliceEmail)

	previews := &fakePreviewer{}
	f := m.NewCreateForm(previews)
	require.NoError(t, f.Open())
	fillDesk(t, f)

	_, err := f.Submit(context.Background())
	assert.EqualError(t, err, "Failed to upload image")
	assert.Equal(t, Open, f.State())
	assert.Equal(t, "Desk", f.Fields().Title)
	assert.Equal(t, "preview://desk.jpg", f.PreviewLocation())
	assert.Zero(t, previews.made[0].revoked)
	assert.Zero(t, api.listCalls())

	f.Close()
	assert.Equal(t, Closed, f.State())
	assert.NoError(t, f.Err())
	assert.Equal(t, 1, previews.made[0].revoked)
}

func TestCreateForm_SubmitInProgress(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	api := &fakeAPI{}
	api.createFn = func(fields models.ListingFields, _ *models.Image) (*models.Listing, error) {
		close(entered)
		<-release
		return &models.Listing{ID: "x", Title: fields.Title}, nil
	}
	m, store := newMarket(t, api)
	signIn(store, aliceEmail)

	f := m.NewCreateForm(&fakePreviewer{})
	require.NoError(t, f.Open())
	fillDesk(t, f)

	done := make(chan error, 1)
	go func() {
		_, err := f.Submit(context.Background())
		done <- err
	}()
	<-entered

	assert.Equal(t, Submitting, f.State())
	_, err := f.Submit(context.Background())
	assert.ErrorIs(t, err, ErrSubmitInProgress)

	close(release)
	require.NoError(t, <-done)
	assert.Len(t, api.created, 1)
}

func TestCreateForm_ClosedSubmit(t *testing.T) {
	m, store := newMarket(t, &fakeAPI{})
	signIn(store, aliceEmail)

	_, err := m.NewCreateForm(&fakePreviewer{}).Submit(context.Background())
	assert.ErrorIs(t, err, ErrFormClosed)
}

func TestCreateForm_PreviewReplaced(t *testing.T) {
	m, store := newMarket(t, &fakeAPI{})
	signIn(store, aliceEmail)

	previews := &fakePreviewer{}
	f := m.NewCreateForm(previews)
	require.NoError(t, f.Open())

	require.NoError(t, f.SelectImage(jpeg()))
	require.NoError(t, f.SelectImage(&models.Image{Filename: "other.png", Data: []byte("png")}))
	require.Len(t, previews.made, 2)
	assert.Equal(t, 1, previews.made[0].revoked)
	assert.Zero(t, previews.made[1].revoked)
	assert.Equal(t, "preview://other.png", f.PreviewLocation())
}

func TestCreateForm_FailedPreviewKeepsSelection(t *testing.T) {
	api := &fakeAPI{}
	m, store := newMarket(t, api)
	signIn(store, aliceEmail)

	previews := &fakePreviewer{}
	f := m.NewCreateForm(previews)
	require.NoError(t, f.Open())
	fillDesk(t, f)

	previews.err = errBoom
	err := f.SelectImage(&models.Image{Filename: "broken.png", Data: []byte("png")})
	assert.ErrorIs(t, err, errBoom)
	assert.Zero(t, previews.made[0].revoked, "old preview still shown")
	assert.Equal(t, "preview://desk.jpg", f.PreviewLocation())

	_, err = f.Submit(context.Background())
	require.NoError(t, err)
	require.Len(t, api.images, 1)
	assert.Equal(t, "desk.jpg", api.images[0].Filename)
	assert.Equal(t, 1, previews.made[0].revoked)
}

func TestCreateForm_SetPrice(t *testing.T) {
	m, _ := newMarket(t, &fakeAPI{})
	f := m.NewCreateForm(nil)

	require.NoError(t, f.SetPrice("12.5"))
	assert.ErrorIs(t, f.SetPrice("12.5.1"), ErrInvalidPrice)
	assert.ErrorIs(t, f.SetPrice("$12"), ErrInvalidPrice)
	assert.Equal(t, "12.5", f.Fields().Price)
	require.NoError(t, f.SetPrice(""))
}

func TestTempPreviewer(t *testing.T) {
	p, err := TempPreviewer{Dir: t.TempDir()}.Preview(jpeg())
	require.NoError(t, err)

	data, err := os.ReadFile(p.Location())
	require.NoError(t, err)
	assert.Equal(t, jpeg().Data, data)
	assert.Equal(t, ".jpg", p.Location()[len(p.Location())-4:])

	require.NoError(t, p.Revoke())
	_, err = os.Stat(p.Location())
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, p.Revoke(), "revoking twice is fine")
}

func TestCreateState_String(t *testing.T) {
	assert.Equal(t, "submitting", Submitting.String())
	assert.Equal(t, "closed", Closed.String())
}
