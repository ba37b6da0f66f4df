package listings

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/vindennt/gus-marketplace/internal/models"
)

var groupMePattern = regexp.MustCompile(`^(https?://(web\.)?groupme\.com/(contact/|join_group/)|groupme://join_group/).+`)

// priceInput matches what the price field accepts while typing
var priceInput = regexp.MustCompile(`^\d*\.?\d*$`)

// Field names used in validation errors
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldPrice       = "price"
	FieldImage       = "image"
	FieldCategory    = "category"
	FieldCondition   = "condition"
	FieldGroupMeLink = "groupMeLink"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// ValidGroupMeLink reports whether link is a GroupMe contact or join-group link
func ValidGroupMeLink(link string) bool {
	return groupMePattern.MatchString(strings.TrimSpace(link))
}

// ValidPriceInput reports whether the price field may hold value
func ValidPriceInput(value string) bool {
	return value == "" || priceInput.MatchString(value)
}

// Validate checks the create form. The first failing check wins, in form
// order: title, description, price, image, category, condition, GroupMe link
func Validate(fields models.ListingFields, image *models.Image) error {
	if strings.TrimSpace(fields.Title) == "" {
		return &ValidationError{Field: FieldTitle, Message: "Title is required"}
	}
	if strings.TrimSpace(fields.Description) == "" {
		return &ValidationError{Field: FieldDescription, Message: "Description is required"}
	}
	if strings.TrimSpace(fields.Price) == "" {
		return &ValidationError{Field: FieldPrice, Message: "Price is required"}
	}
	if image == nil || len(image.Data) == 0 {
		return &ValidationError{Field: FieldImage, Message: "Photo is required. Please upload an image."}
	}
	if fields.Category == "" {
		return &ValidationError{Field: FieldCategory, Message: "Category is required"}
	}
	if !fields.Category.Valid() {
		return &ValidationError{Field: FieldCategory, Message: fmt.Sprintf("Unknown category %q", fields.Category)}
	}
	if fields.Condition == "" {
		return &ValidationError{Field: FieldCondition, Message: "Condition is required"}
	}
	if !fields.Condition.Valid() {
		return &ValidationError{Field: FieldCondition, Message: fmt.Sprintf("Unknown condition %q", fields.Condition)}
	}
	// GroupMe link is optional
	if link := strings.TrimSpace(fields.GroupMeLink); link != "" && !ValidGroupMeLink(link) {
		return &ValidationError{
			Field:   FieldGroupMeLink,
			Message: "Invalid GroupMe link format. Please provide a valid GroupMe link (e.g., https://groupme.com/contact/...).",
		}
	}
	return nil
}
