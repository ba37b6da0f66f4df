package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/vindennt/gus-marketplace/internal/auth"
	"github.com/vindennt/gus-marketplace/internal/listings"
	"github.com/vindennt/gus-marketplace/internal/models"
)

const maxUploadBytes = 10 << 20

const (
	msgForbiddenDelete = "Only owners can delete their listings."
	msgSelfContact     = "You cannot contact yourself about your own listing."
	msgEmptyMessage    = "Please enter a message."
	msgRateLimited     = "Too many messages. Please wait a minute and try again."
	msgLoginForMine    = "Please log in to view your listings."
)

// listListings serves every listing. With ?mine=true it narrows to the
// caller's own, which needs a token
func (s *Server) listListings(w http.ResponseWriter, r *http.Request) {
	user, signedIn := auth.UserFromContext(r.Context())
	mine := r.URL.Query().Get("mine") == "true"
	if mine && !signedIn {
		respondError(w, http.StatusUnauthorized, msgLoginForMine)
		return
	}

	all, err := s.store.ListListings(r.Context())
	if err != nil {
		s.logger.Error("list listings", zap.Error(err))
		respondStoreError(w, err, "Failed to fetch listings")
		return
	}
	if mine {
		own := make([]models.Listing, 0, len(all))
		for _, l := range all {
			if strings.EqualFold(l.UserName, user.Email) {
				own = append(own, l)
			}
		}
		all = own
	}

	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate")
	respondJSON(w, http.StatusOK, all)
}

// createListing takes the multipart form. The owner is always the caller,
// whatever userName the form claims
func (s *Server) createListing(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			respondError(w, http.StatusRequestEntityTooLarge, "Image is too large. The limit is 10 MB.")
			return
		}
		respondError(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	fields := models.ListingFields{
		UserName:    user.Email,
		Title:       strings.TrimSpace(r.FormValue("title")),
		Description: strings.TrimSpace(r.FormValue("description")),
		Category:    models.Category(r.FormValue("category")),
		Condition:   models.Condition(r.FormValue("condition")),
		Price:       strings.TrimSpace(r.FormValue("price")),
		GroupMeLink: strings.TrimSpace(r.FormValue("groupMeLink")),
	}

	image, err := readImage(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := listings.Validate(fields, image); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	listing := models.Listing{
		UserName:    fields.UserName,
		UserID:      user.ID,
		Title:       fields.Title,
		Description: fields.Description,
		Category:    fields.Category,
		Condition:   fields.Condition,
		Price:       fields.Price,
		GroupMeLink: fields.GroupMeLink,
	}

	created, err := s.store.CreateListing(r.Context(), listing, image)
	if err != nil {
		s.logger.Error("create listing", zap.String("owner", user.Email), zap.Error(err))
		respondStoreError(w, err, "Failed to create listing")
		return
	}

	s.logger.Info("listing created", zap.String("id", created.ID), zap.String("owner", user.Email))
	s.announce(r, models.ActionCreated, created.ID)
	respondJSON(w, http.StatusOK, created)
}

// readImage returns nil when no imageFile part was sent
func readImage(r *http.Request) (*models.Image, error) {
	file, header, err := r.FormFile("imageFile")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return nil, err
	}

	ct := header.Header.Get("Content-Type")
	if ct == "" || ct == "application/octet-stream" {
		ct = http.DetectContentType(data)
	}
	if !strings.HasPrefix(ct, "image/") {
		return nil, errors.New("Uploaded file must be an image")
	}

	return &models.Image{
		Filename:    filepath.Base(header.Filename),
		ContentType: ct,
		Data:        data,
	}, nil
}

func (s *Server) deleteListing(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	id := r.PathValue("id")

	listing, err := s.store.GetListing(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "Failed to delete listing")
		return
	}

	if !s.canDelete(user, *listing) {
		s.logger.Warn("delete refused", zap.String("id", id), zap.String("user", user.Email))
		respondError(w, http.StatusForbidden, msgForbiddenDelete)
		return
	}

	if err := s.store.DeleteListing(r.Context(), id); err != nil {
		s.logger.Error("delete listing", zap.String("id", id), zap.Error(err))
		respondStoreError(w, err, "Failed to delete listing")
		return
	}

	s.logger.Info("listing deleted", zap.String("id", id), zap.String("by", user.Email))
	s.announce(r, models.ActionDeleted, id)
	respondJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) canDelete(user models.User, listing models.Listing) bool {
	if user.Email == "" {
		return false
	}
	if s.adminEmail != "" && strings.EqualFold(user.Email, s.adminEmail) {
		return true
	}
	return listing.UserName == user.Email
}

func (s *Server) contactSeller(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	id := r.PathValue("id")

	if !s.limiter.Allow(user.Email) {
		respondError(w, http.StatusTooManyRequests, msgRateLimited)
		return
	}

	var req models.ContactRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	req.Message = strings.TrimSpace(req.Message)
	if req.Message == "" {
		respondError(w, http.StatusBadRequest, msgEmptyMessage)
		return
	}
	// The seller replies to whoever the token says sent this
	req.BuyerName = user.Email

	listing, err := s.store.GetListing(r.Context(), id)
	if err != nil {
		respondStoreError(w, err, "Failed to send message")
		return
	}
	if listing.UserName == user.Email {
		respondError(w, http.StatusBadRequest, msgSelfContact)
		return
	}

	ack, err := s.store.ContactSeller(r.Context(), id, req)
	if err != nil {
		s.logger.Error("contact seller", zap.String("id", id), zap.Error(err))
		respondStoreError(w, err, "Failed to send message")
		return
	}
	respondJSON(w, http.StatusOK, ack)
}

func (s *Server) uploadURL(w http.ResponseWriter, r *http.Request) {
	ext := r.URL.Query().Get("ext")
	if ext == "" {
		ext = ".jpg"
	}

	u, err := s.store.UploadURL(r.Context(), ext)
	if err != nil {
		respondStoreError(w, err, "Failed to get upload URL")
		return
	}
	respondJSON(w, http.StatusOK, u)
}

func (s *Server) announce(r *http.Request, action, id string) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Changed(r.Context(), action, id); err != nil {
		s.logger.Warn("publish listing change", zap.String("action", action), zap.Error(err))
	}
}
