package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/vindennt/gus-marketplace/internal/models"
)

const listingColumns = `id, user_name, user_id, title, description, category, condition, price, image_url, groupme_link, created_at`

// Postgres keeps listings in a plain PostgreSQL database
type Postgres struct {
	db     *sql.DB
	images Images
	logger *zap.Logger
}

// OpenPostgres opens the pool and pings it
func OpenPostgres(ctx context.Context, dsn string, images Images, logger *zap.Logger) (*Postgres, error) {
	conn, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open DB: %w", err)
	}

	conn.SetMaxOpenConns(10)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	logger.Info("connected to PostgreSQL")
	return NewPostgres(conn, images, logger), nil
}

func NewPostgres(conn *sql.DB, images Images, logger *zap.Logger) *Postgres {
	return &Postgres{db: conn, images: images, logger: logger}
}

// CreateTable creates the listings and contact_messages tables if missing
func (p *Postgres) CreateTable(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS listings (
		id           TEXT PRIMARY KEY,
		user_name    TEXT        NOT NULL,
		user_id      TEXT        NOT NULL DEFAULT '',
		title        TEXT        NOT NULL,
		description  TEXT        NOT NULL,
		category     TEXT        NOT NULL,
		condition    TEXT        NOT NULL,
		price        TEXT        NOT NULL,
		image_url    TEXT        NOT NULL DEFAULT '',
		groupme_link TEXT        NOT NULL DEFAULT '',
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_listings_user_name  ON listings (user_name);
	CREATE INDEX IF NOT EXISTS idx_listings_created_at ON listings (created_at DESC);

	CREATE TABLE IF NOT EXISTS contact_messages (
		id           TEXT PRIMARY KEY,
		listing_id   TEXT        NOT NULL,
		seller_email TEXT        NOT NULL,
		buyer_name   TEXT        NOT NULL,
		message      TEXT        NOT NULL,
		sent         BOOLEAN     NOT NULL DEFAULT FALSE,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	`
	if _, err := p.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}
	p.logger.Info("tables 'listings' and 'contact_messages' are ready")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanListing(s rowScanner) (models.Listing, error) {
	var (
		l         models.Listing
		category  string
		condition string
		createdAt time.Time
	)
	err := s.Scan(&l.ID, &l.UserName, &l.UserID, &l.Title, &l.Description,
		&category, &condition, &l.Price, &l.ImageURL, &l.GroupMeLink, &createdAt)
	if err != nil {
		return models.Listing{}, err
	}
	l.Category = models.Category(category)
	l.Condition = models.Condition(condition)
	l.CreatedAt = &createdAt
	return l, nil
}

func (p *Postgres) ListListings(ctx context.Context) ([]models.Listing, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+listingColumns+` FROM listings ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}
	defer rows.Close()

	out := []models.Listing{}
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func (p *Postgres) GetListing(ctx context.Context, id string) (*models.Listing, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+listingColumns+` FROM listings WHERE id = $1`, id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing %s: %w", id, err)
	}
	return &l, nil
}

func (p *Postgres) CreateListing(ctx context.Context, listing models.Listing, image *models.Image) (*models.Listing, error) {
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
func (p *Postgres) discardImage(url string) {
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

func (p *Postgres) insertListing(ctx context.Context, listing models.Listing) (*models.Listing, error) {
	listing.ID = uuid.NewString()
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO listings (id, user_name, user_id, title, description, category, condition, price, image_url, groupme_link)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING `+listingColumns,
		listing.ID, listing.UserName, listing.UserID, listing.Title, listing.Description,
		string(listing.Category), string(listing.Condition), listing.Price, listing.ImageURL, listing.GroupMeLink,
	)

	created, err := scanListing(row)
	if err != nil {
		return nil, fmt.Errorf("insert listing: %w", err)
	}
	return &created, nil
}

func (p *Postgres) DeleteListing(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM listings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete listing %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete listing %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) ContactSeller(ctx context.Context, id string, msg models.ContactRequest) (*models.ContactAck, error) {
	listing, err := p.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO contact_messages (id, listing_id, seller_email, buyer_name, message)
		VALUES ($1, $2, $3, $4, $5)`,
		uuid.NewString(), listing.ID, listing.UserName, msg.BuyerName, msg.Message,
	)
	if err != nil {
		return nil, fmt.Errorf("queue contact message: %w", err)
	}
	return &models.ContactAck{Success: true, Message: queuedMessage}, nil
}

func (p *Postgres) UploadURL(ctx context.Context, ext string) (*models.UploadURL, error) {
	return p.images.SignedUploadURL(ctx, ext)
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
