package models

import (
	"time"
)

type Category string

const (
	CategoryElectronics Category = "Electronics"
	CategoryFurniture   Category = "Furniture"
	CategoryClothing    Category = "Clothing"
	CategoryBooks       Category = "Books"
	CategoryOther       Category = "Other"
)

// Categories in menu order
var Categories = []Category{
	CategoryElectronics,
	CategoryFurniture,
	CategoryClothing,
	CategoryBooks,
	CategoryOther,
}

func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

type Condition string

const (
	ConditionNew     Condition = "New"
	ConditionLikeNew Condition = "Like New"
	ConditionGood    Condition = "Good"
	ConditionFair    Condition = "Fair"
	ConditionPoor    Condition = "Poor"
)

var Conditions = []Condition{
	ConditionNew,
	ConditionLikeNew,
	ConditionGood,
	ConditionFair,
	ConditionPoor,
}

func (c Condition) Valid() bool {
	for _, v := range Conditions {
		if c == v {
			return true
		}
	}
	return false
}

// Listing structs
// UserName holds the owner's email and is the ownership key
type Listing struct {
	ID          string     `json:"id"`
	UserName    string     `json:"userName"`
	UserID      string     `json:"userId,omitempty"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Category    Category   `json:"category"`
	Condition   Condition  `json:"condition"`
	Price       string     `json:"price"`
	ImageURL    string     `json:"imageUrl,omitempty"`
	GroupMeLink string     `json:"groupMeLink,omitempty"`
	CreatedAt   *time.Time `json:"createdAt,omitempty"`
}

// ListingFields are the user-editable fields of the create form
type ListingFields struct {
	UserName    string    `json:"userName"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Category    Category  `json:"category"`
	Condition   Condition `json:"condition"`
	Price       string    `json:"price"`
	GroupMeLink string    `json:"groupMeLink,omitempty"`
}

// Image is a raw file selected for upload
type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Contact structs
type ContactRequest struct {
	BuyerName string `json:"buyerName"`
	Message   string `json:"message"`
}

type ContactAck struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// ContactMessage is a persisted contact-seller request waiting to be emailed
type ContactMessage struct {
	ID          string    `json:"id"`
	ListingID   string    `json:"listing_id"`
	SellerEmail string    `json:"seller_email"`
	BuyerName   string    `json:"buyer_name"`
	Message     string    `json:"message"`
	Sent        bool      `json:"sent"`
	CreatedAt   time.Time `json:"created_at"`
}

type UploadURL struct {
	UploadURL string `json:"uploadUrl"`
	FileURL   string `json:"fileUrl"`
}

// Auth structs
type AuthRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type AuthResponse struct {
	Session *SessionResponse `json:"session,omitempty"`
	Message string           `json:"message"`
}

type SessionResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at,omitempty"`
	TokenType    string `json:"token_type"`
	User         User   `json:"user"`
}

type ResetPasswordRequest struct {
	Email string `json:"email"`
}

type UpdatePasswordRequest struct {
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirmPassword"`
}

type CallbackRequest struct {
	Code         string `json:"code"`
	CodeVerifier string `json:"code_verifier"`
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Change feed
const (
	EventWelcome         = "WELCOME"
	EventListingsChanged = "LISTINGS_CHANGED"

	ActionCreated = "created"
	ActionDeleted = "deleted"
)

type ListingEvent struct {
	Type   string `json:"type"`
	Action string `json:"action,omitempty"`
	ID     string `json:"id,omitempty"`
}
