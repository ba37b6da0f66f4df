package market

import (
	"sort"

	"github.com/vindennt/gus-marketplace/internal/listings"
	"github.com/vindennt/gus-marketplace/internal/models"
)

type PriceSort int

const (
	SortNone PriceSort = iota
	SortHigh
	SortLow
)

func (p PriceSort) String() string {
	switch p {
	case SortHigh:
		return "high"
	case SortLow:
		return "low"
	default:
		return "none"
	}
}

// ParsePriceSort reads "high", "low" or "none". Anything else is none
func ParsePriceSort(s string) PriceSort {
	switch s {
	case "high":
		return SortHigh
	case "low":
		return SortLow
	default:
		return SortNone
	}
}

// FilterState is the view-local filter selection. Category "" means all.
// Category and price sort combine freely
type FilterState struct {
	ShowMyListingsOnly bool
	Category           models.Category
	PriceSort          PriceSort
}

// Apply derives the displayed listings: ownership, then category, then sort.
// The input slice is never modified
func Apply(all []models.Listing, st FilterState, viewerEmail string) []models.Listing {
	out := make([]models.Listing, 0, len(all))
	for _, l := range all {
		if st.ShowMyListingsOnly && viewerEmail != "" && l.UserName != viewerEmail {
			continue
		}
		if st.Category != "" && l.Category != st.Category {
			continue
		}
		out = append(out, l)
	}

	switch st.PriceSort {
	case SortHigh:
		sort.SliceStable(out, func(i, j int) bool {
			return listings.ParsePrice(out[i].Price) > listings.ParsePrice(out[j].Price)
		})
	case SortLow:
		sort.SliceStable(out, func(i, j int) bool {
			return listings.ParsePrice(out[i].Price) < listings.ParsePrice(out[j].Price)
		})
	}
	return out
}

// CycleCategory steps All -> Electronics -> ... -> Other -> Electronics
func (st *FilterState) CycleCategory() {
	for i, c := range models.Categories {
		if c == st.Category {
			st.Category = models.Categories[(i+1)%len(models.Categories)]
			return
		}
	}
	st.Category = models.Categories[0]
}

// CyclePriceSort steps none -> high -> low -> none
func (st *FilterState) CyclePriceSort() {
	switch st.PriceSort {
	case SortNone:
		st.PriceSort = SortHigh
	case SortHigh:
		st.PriceSort = SortLow
	default:
		st.PriceSort = SortNone
	}
}

// Clear drops the category and sort. The my-listings toggle is separate
func (st *FilterState) Clear() {
	st.Category = ""
	st.PriceSort = SortNone
}

func (st FilterState) Filtered() bool {
	return st.Category != "" || st.PriceSort != SortNone
}

// EmptyMessage is shown when Apply returns nothing
func (st FilterState) EmptyMessage() string {
	switch {
	case st.ShowMyListingsOnly:
		return "You haven't created any listings yet."
	case st.Filtered():
		return "Try adjusting your filters."
	default:
		return "Be the first to create a listing!"
	}
}
