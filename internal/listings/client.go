// Package listings is the client for the marketplace listings API.
package listings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/vindennt/gus-marketplace/internal/models"
)

var (
	ErrFetchFailed  = errors.New("failed to fetch listings")
	ErrDeleteFailed = errors.New("failed to delete listing")
)

// APIError carries the status and the server's message for a non-2xx response
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP error! status: %d", e.Status)
	}
	return e.Message
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// List fetches every listing. Any failure is reported as ErrFetchFailed
func (c *Client) List(ctx context.Context) ([]models.Listing, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/gus", nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	req.Header.Set("Cache-Control", "no-store")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, readAPIError(resp))
	}

	var out []models.Listing
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, err)
	}
	if out == nil {
		out = []models.Listing{}
	}
	return out, nil
}

// Create validates the form and sends it as multipart data. Validation
// failures return a *ValidationError without touching the network
func (c *Client) Create(ctx context.Context, token string, fields models.ListingFields, image *models.Image) (*models.Listing, error) {
	if err := Validate(fields, image); err != nil {
		return nil, err
	}

	body, contentType, err := EncodeListingForm(fields, image)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/gus/create", body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	setBearer(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readAPIError(resp)
	}

	var created models.Listing
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("decode created listing: %w", err)
	}
	return &created, nil
}

// Delete removes a listing. Not-found, forbidden and network failures are all
// reported as ErrDeleteFailed
func (c *Client) Delete(ctx context.Context, token, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/gus/delete/"+url.PathEscape(id), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	setBearer(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: status %d", ErrDeleteFailed, resp.StatusCode)
	}
	return nil
}

// ContactSeller posts a message for the owner of listing id
func (c *Client) ContactSeller(ctx context.Context, token, id string, msg models.ContactRequest) (*models.ContactAck, error) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/gus/contact-seller/"+url.PathEscape(id), bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	setBearer(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readAPIError(resp)
	}

	ack := &models.ContactAck{Success: true}
	if err := json.NewDecoder(resp.Body).Decode(ack); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode contact response: %w", err)
	}
	return ack, nil
}

// UploadURL asks for a pre-signed image upload URL. ext names the file type,
// like ".png"; the server picks one when it is empty
func (c *Client) UploadURL(ctx context.Context, token, ext string) (*models.UploadURL, error) {
	endpoint := c.baseURL + "/api/gus/upload-url"
	if ext != "" {
		endpoint += "?" + url.Values{"ext": {ext}}.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	setBearer(req, token)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, readAPIError(resp)
	}

	var out models.UploadURL
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode upload url: %w", err)
	}
	if out.UploadURL == "" || out.FileURL == "" {
		return nil, errors.New("upload url response is missing uploadUrl or fileUrl")
	}
	return &out, nil
}

// UploadImage PUTs the image bytes to a pre-signed URL from UploadURL
func (c *Client) UploadImage(ctx context.Context, uploadURL string, image *models.Image) error {
	if image == nil || len(image.Data) == 0 {
		return errors.New("no image to upload")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(image.Data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", imageContentType(image))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to upload file: %w", readAPIError(resp))
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// EncodeListingForm builds the multipart body for a create request.
// Returns the body and its Content-Type (with boundary)
func EncodeListingForm(fields models.ListingFields, image *models.Image) (*bytes.Buffer, string, error) {
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)

	values := []struct{ key, val string }{
		{"userName", fields.UserName},
		{"title", fields.Title},
		{"description", fields.Description},
		{"category", string(fields.Category)},
		{"price", fields.Price},
		{"condition", string(fields.Condition)},
	}
	for _, v := range values {
		if err := w.WriteField(v.key, v.val); err != nil {
			return nil, "", err
		}
	}
	if link := strings.TrimSpace(fields.GroupMeLink); link != "" {
		if err := w.WriteField("groupMeLink", link); err != nil {
			return nil, "", err
		}
	}

	if image != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="imageFile"; filename="%s"`, escapeQuotes(image.Filename)))
		h.Set("Content-Type", imageContentType(image))
		part, err := w.CreatePart(h)
		if err != nil {
			return nil, "", err
		}
		if _, err := part.Write(image.Data); err != nil {
			return nil, "", err
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}
	return body, w.FormDataContentType(), nil
}

func imageContentType(image *models.Image) string {
	if image.ContentType != "" {
		return image.ContentType
	}
	if ct := http.DetectContentType(image.Data); ct != "application/octet-stream" {
		return ct
	}
	switch strings.ToLower(filepath.Ext(image.Filename)) {
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".webp":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}

var quoteEscaper = strings.NewReplacer("\\", "\\\\", `"`, "\\\"")

func escapeQuotes(s string) string {
	return quoteEscaper.Replace(s)
}

func setBearer(req *http.Request, token string) {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

// readAPIError prefers the JSON error field, then the raw body text
func readAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	text := strings.TrimSpace(string(raw))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		switch {
		case payload.Error != "":
			text = payload.Error
		case payload.Message != "":
			text = payload.Message
		}
	}

	return &APIError{Status: resp.StatusCode, Message: text}
}
