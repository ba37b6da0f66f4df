package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vindennt/gus-marketplace/internal/auth"
	"github.com/vindennt/gus-marketplace/internal/listings"
	"github.com/vindennt/gus-marketplace/internal/market"
	"github.com/vindennt/gus-marketplace/internal/models"
	"github.com/vindennt/gus-marketplace/internal/session"
)

var (
	email    string
	password string

	mineOnly bool
	category string
	sortBy   string

	form      models.ListingFields
	imagePath string

	message string
)

var listingsCmd = &cobra.Command{
	Use:   "listings",
	Short: "List marketplace listings",
	Long: `Prints the current listings, newest first.

Examples:
  gus listings --category Furniture --sort low
  gus listings --mine --email you@augustana.edu`,
	Args: cobra.NoArgs,
	RunE: runListings,
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a listing",
	Long: `Creates a listing owned by the signed-in account. A photo is required.

Example:
  gus create --title Desk --description "Sturdy oak desk" --price 45 \
    --category Furniture --condition Good --image desk.jpg`,
	Args: cobra.NoArgs,
	RunE: runCreate,
}

var deleteCmd = &cobra.Command{
	Use:   "delete [listing-id]",
	Short: "Delete one of your listings",
	Args:  cobra.ExactArgs(1),
	RunE:  runDelete,
}

var contactCmd = &cobra.Command{
	Use:   "contact [listing-id]",
	Short: "Email the seller of a listing",
	Args:  cobra.ExactArgs(1),
	RunE:  runContact,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow listing changes as they happen",
	Args:  cobra.NoArgs,
	RunE:  runWatch,
}

var uploadCmd = &cobra.Command{
	Use:   "upload [image]",
	Short: "Upload a photo and print its public URL",
	Long: `Uploads a photo straight to storage through a pre-signed URL and prints
the URL it will be served from.

Example:
  gus upload desk.jpg --email you@augustana.edu`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create an account",
	Args:  cobra.NoArgs,
	RunE:  runSignup,
}

var resetPasswordCmd = &cobra.Command{
	Use:   "reset-password",
	Short: "Send a password reset email",
	Args:  cobra.NoArgs,
	RunE:  runResetPassword,
}

func init() {
	for _, c := range []*cobra.Command{listingsCmd, createCmd, deleteCmd, contactCmd, watchCmd, uploadCmd, signupCmd, resetPasswordCmd} {
		c.Flags().StringVar(&email, "email", "", "account email (default $GUS_EMAIL)")
	}
	for _, c := range []*cobra.Command{listingsCmd, createCmd, deleteCmd, contactCmd, watchCmd, uploadCmd, signupCmd} {
		c.Flags().StringVar(&password, "password", "", "account password (default $GUS_PASSWORD)")
	}

	for _, c := range []*cobra.Command{listingsCmd, watchCmd} {
		c.Flags().BoolVar(&mineOnly, "mine", false, "only show your own listings (needs an account)")
		c.Flags().StringVar(&category, "category", "", "only show one category")
		c.Flags().StringVar(&sortBy, "sort", "", "sort by price: high or low")
	}

	f := createCmd.Flags()
	f.StringVar(&form.Title, "title", "", "listing title")
	f.StringVar(&form.Description, "description", "", "listing description")
	f.StringVar(&form.Price, "price", "", "price, digits and an optional decimal point")
	f.StringVar((*string)(&form.Category), "category", "", "Electronics, Furniture, Clothing, Books or Other")
	f.StringVar((*string)(&form.Condition), "condition", "", "New, Like New, Good, Fair or Poor")
	f.StringVar(&form.GroupMeLink, "groupme", "", "optional GroupMe contact link")
	f.StringVar(&imagePath, "image", "", "path to the listing photo")

	contactCmd.Flags().StringVarP(&message, "message", "m", "", "message for the seller")
}

// client bundles what the client commands share
type client struct {
	store  *session.Store
	auth   *auth.Client
	api    *listings.Client
	market *market.Marketplace
}

func newClient() *client {
	store := session.New(cfg.AdminEmail)
	api := listings.NewClient(cfg.APIURL)
	return &client{
		store:  store,
		auth:   auth.NewClient(cfg, logger, auth.WithStore(store)),
		api:    api,
		market: market.New(api, store, logger),
	}
}

func (c *client) Close() {
	c.market.Close()
}

func credentials() (string, string) {
	e, p := email, password
	if e == "" {
		e = os.Getenv("GUS_EMAIL")
	}
	if p == "" {
		p = os.Getenv("GUS_PASSWORD")
	}
	return strings.TrimSpace(e), p
}

// signIn signs in when credentials are given. With required set, missing
// credentials are an error
func (c *client) signIn(ctx context.Context, required bool) error {
	e, p := credentials()
	if e == "" || p == "" {
		if required {
			return errors.New("this command needs an account: pass --email and --password or set GUS_EMAIL and GUS_PASSWORD")
		}
		return nil
	}
	if _, err := c.auth.SignIn(ctx, e, p); err != nil {
		return err
	}
	logger.Debug("signed in", zap.String("email", e))
	return nil
}

func (c *client) applyFilters() error {
	if mineOnly {
		if err := c.market.ToggleMyListings(); err != nil {
			return err
		}
	}
	if category != "" {
		cat := models.Category(category)
		if !cat.Valid() {
			return fmt.Errorf("unknown category %q", category)
		}
		c.market.SetCategory(cat)
	}
	if sortBy != "" {
		ps := market.ParsePriceSort(strings.ToLower(sortBy))
		if ps == market.SortNone && !strings.EqualFold(sortBy, "none") {
			return fmt.Errorf("unknown sort %q, want high or low", sortBy)
		}
		c.market.SetPriceSort(ps)
	}
	return nil
}

func runListings(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	c := newClient()
	defer c.Close()

	if err := c.signIn(ctx, mineOnly); err != nil {
		return err
	}
	if err := c.applyFilters(); err != nil {
		return err
	}
	if err := c.market.Refresh(ctx); err != nil {
		return err
	}

	printListings(cmd.OutOrStdout(), c.market.Visible(), c.market.Filter())
	return nil
}

func printListings(out io.Writer, ls []models.Listing, st market.FilterState) {
	if len(ls) == 0 {
		fmt.Fprintln(out, st.EmptyMessage())
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tPRICE\tCATEGORY\tCONDITION\tSELLER")
	for _, l := range ls {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			l.ID, l.Title, listings.FormatPrice(l.Price), l.Category, l.Condition, l.UserName)
	}
	w.Flush()
}

func readImageFile(path string) (*models.Image, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return &models.Image{Filename: filepath.Base(path), Data: data}, nil
}

func runCreate(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	c := newClient()
	defer c.Close()

	if err := c.signIn(ctx, true); err != nil {
		return err
	}

	f := c.market.NewCreateForm(market.TempPreviewer{})
	if err := f.Open(); err != nil {
		return err
	}
	defer f.Close()

	f.SetTitle(form.Title)
	f.SetDescription(form.Description)
	if err := f.SetPrice(form.Price); err != nil {
		return err
	}
	f.SetCategory(form.Category)
	f.SetCondition(form.Condition)
	f.SetGroupMeLink(form.GroupMeLink)

	image, err := readImageFile(imagePath)
	if err != nil {
		return err
	}
	if err := f.SelectImage(image); err != nil {
		return err
	}

	created, err := f.Submit(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Created listing %s (%s)\n", created.ID, created.Title)
	return nil
}

func runDelete(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := newClient()
	defer c.Close()

	if err := c.signIn(ctx, true); err != nil {
		return err
	}
	if err := c.market.Delete(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted listing %s\n", args[0])
	return nil
}

func runContact(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := newClient()
	defer c.Close()

	if err := c.signIn(ctx, true); err != nil {
		return err
	}
	if err := c.market.Refresh(ctx); err != nil {
		return err
	}

	var target *models.Listing
	for _, l := range c.market.Listings() {
		if l.ID == args[0] {
			target = &l
			break
		}
	}
	if target == nil {
		return fmt.Errorf("listing %s not found", args[0])
	}

	composer := c.market.NewContact()
	if err := composer.Open(*target); err != nil {
		return err
	}
	if err := composer.Send(ctx, message); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Message sent to the seller of %q\n", target.Title)
	return nil
}

func runWatch(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	c := newClient()
	defer c.Close()

	if err := c.signIn(ctx, mineOnly); err != nil {
		return err
	}
	if err := c.applyFilters(); err != nil {
		return err
	}
	if err := c.market.Refresh(ctx); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.store.LoggedIn() {
		go func() {
			if err := c.auth.KeepFresh(ctx); err != nil {
				logger.Warn("session refresh stopped", zap.Error(err))
			}
		}()
	}

	out := cmd.OutOrStdout()
	printListings(out, c.market.Visible(), c.market.Filter())

	return c.market.Watch(ctx, func(ev models.ListingEvent) {
		fmt.Fprintf(out, "\nlisting %s %s\n", ev.ID, ev.Action)
		printListings(out, c.market.Visible(), c.market.Filter())
	})
}

// photoUploader is the part of listings.Client the upload command needs
type photoUploader interface {
	UploadURL(ctx context.Context, token, ext string) (*models.UploadURL, error)
	UploadImage(ctx context.Context, uploadURL string, image *models.Image) error
}

// uploadPhoto reserves a pre-signed URL, PUTs the image to it and returns
// the public URL
func uploadPhoto(ctx context.Context, api photoUploader, token string, image *models.Image) (string, error) {
	if image == nil || len(image.Data) == 0 {
		return "", errors.New("image file is empty")
	}
	u, err := api.UploadURL(ctx, token, strings.ToLower(filepath.Ext(image.Filename)))
	if err != nil {
		return "", err
	}
	if err := api.UploadImage(ctx, u.UploadURL, image); err != nil {
		return "", err
	}
	return u.FileURL, nil
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c := newClient()
	defer c.Close()

	if err := c.signIn(ctx, true); err != nil {
		return err
	}
	image, err := readImageFile(args[0])
	if err != nil {
		return err
	}

	fileURL, err := uploadPhoto(ctx, c.api, c.store.Token(), image)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), fileURL)
	return nil
}

func runSignup(cmd *cobra.Command, _ []string) error {
	e, p := credentials()
	if e == "" || p == "" {
		return errors.New("pass --email and --password or set GUS_EMAIL and GUS_PASSWORD")
	}

	c := newClient()
	defer c.Close()

	sess, err := c.auth.SignUp(cmd.Context(), e, p)
	if err != nil {
		return err
	}
	if sess == nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Sign up successful. Check your email to verify your account.")
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Signed up and signed in as %s\n", sess.User.Email)
	return nil
}

func runResetPassword(cmd *cobra.Command, _ []string) error {
	e, _ := credentials()
	if e == "" {
		return errors.New("pass --email or set GUS_EMAIL")
	}

	c := newClient()
	defer c.Close()

	if err := c.auth.ResetPassword(cmd.Context(), e); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Password reset email sent! Please check your inbox and follow the instructions to reset your password.")
	return nil
}
