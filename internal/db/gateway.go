package db

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vindennt/gus-marketplace/internal/listings"
	"github.com/vindennt/gus-marketplace/internal/models"
)

// Gateway forwards every call to the hosted listings backend under
// ${BACKEND_URL}/api/v1/gus, authenticated with x-api-key
type Gateway struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewGateway(backendURL, apiKey string, logger *zap.Logger) *Gateway {
	return &Gateway{
		baseURL:    strings.TrimRight(backendURL, "/") + "/api/v1/gus",
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (g *Gateway) ListListings(ctx context.Context) ([]models.Listing, error) {
	req, err := g.newRequest(ctx, http.MethodGet, "", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out []models.Listing
	if err := g.do(req, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []models.Listing{}
	}
	return out, nil
}

// GetListing has no upstream route of its own, so it scans the full list
func (g *Gateway) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	all, err := g.ListListings(ctx)
	if err != nil {
		return nil, err
	}
	for i := range all {
		if all[i].ID == id {
			return &all[i], nil
		}
	}
	return nil, ErrNotFound
}

func (g *Gateway) CreateListing(ctx context.Context, listing models.Listing, image *models.Image) (*models.Listing, error) {
	body, contentType, err := listings.EncodeListingForm(fieldsOf(listing), image)
	if err != nil {
		return nil, fmt.Errorf("encode listing form: %w", err)
	}

	req, err := g.newRequest(ctx, http.MethodPost, "/create", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)

	var created models.Listing
	if err := g.do(req, &created); err != nil {
		return nil, err
	}
	return &created, nil
}

func (g *Gateway) DeleteListing(ctx context.Context, id string) error {
	req, err := g.newRequest(ctx, http.MethodPost, "/delete/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	err = g.do(req, nil)
	var be *BackendError
	if errors.As(err, &be) && be.Status == http.StatusNotFound {
		return ErrNotFound
	}
	return err
}

func (g *Gateway) ContactSeller(ctx context.Context, id string, msg models.ContactRequest) (*models.ContactAck, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	req, err := g.newRequest(ctx, http.MethodPost, "/contact-seller/"+url.PathEscape(id), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	ack := &models.ContactAck{Success: true}
	if err := g.do(req, ack); err != nil {
		return nil, err
	}
	return ack, nil
}

// UploadURL asks the backend for a pre-signed upload. ext is decided upstream
func (g *Gateway) UploadURL(ctx context.Context, _ string) (*models.UploadURL, error) {
	req, err := g.newRequest(ctx, http.MethodGet, "/getUploadUrl", nil)
	if err != nil {
		return nil, err
	}

	var out models.UploadURL
	if err := g.do(req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (g *Gateway) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-api-key", g.apiKey)
	return req, nil
}

// do sends req and decodes a JSON body into out when out is non-nil.
// Non-2xx answers come back as *BackendError carrying the raw text
func (g *Gateway) do(req *http.Request, out any) error {
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		g.logger.Warn("backend error",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(raw)),
		)
		return &BackendError{Status: resp.StatusCode, Body: string(raw)}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode backend response: %w", err)
	}
	return nil
}
