package backend

import (
	"errors"
	"net/url"
	"slices"
	"sort"
	"strings"
	"time"
)

// Genres lists the genres a review may be filed under.
var Genres = []string{"Action", "RPG", "Adventure"}

const (
	MinRating = 1
	MaxRating = 10
	MinYear   = 1950
)

// SortKey selects the field reviews are ordered by.
type SortKey string

const (
	SortNone   SortKey = ""
	SortRating SortKey = "rating"
	SortYear   SortKey = "year"
)

// ParseSortKey maps a query value to a SortKey; unknown values mean no sort.
func ParseSortKey(s string) SortKey {
	switch SortKey(strings.ToLower(strings.TrimSpace(s))) {
	case SortRating:
		return SortRating
	case SortYear:
		return SortYear
	default:
		return SortNone
	}
}

// FilterByGenre keeps reviews of genre, compared case-insensitively. An
// empty genre keeps everything.
func FilterByGenre(reviews []Review, genre string) []Review {
	genre = strings.TrimSpace(genre)
	if genre == "" {
		return slices.Clone(reviews)
	}
	out := make([]Review, 0, len(reviews))
	for _, r := range reviews {
		if strings.EqualFold(r.Genre, genre) {
			out = append(out, r)
		}
	}
	return out
}

// SortReviews returns a sorted copy. Ties keep their original order.
func SortReviews(reviews []Review, key SortKey, descending bool) []Review {
	out := slices.Clone(reviews)
	var less func(a, b Review) bool
	switch key {
	case SortRating:
		less = func(a, b Review) bool { return a.Rating < b.Rating }
	case SortYear:
		less = func(a, b Review) bool { return a.PublishingYear < b.PublishingYear }
	default:
		return out
	}
	sort.SliceStable(out, func(i, j int) bool {
		if descending {
			return less(out[j], out[i])
		}
		return less(out[i], out[j])
	})
	return out
}

// HighestRated returns up to n reviews with the best ratings.
func HighestRated(reviews []Review, n int) []Review {
	out := SortReviews(reviews, SortRating, true)
	if n >= 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// ByReviewer keeps reviews written by email.
func ByReviewer(reviews []Review, email string) []Review {
	out := make([]Review, 0)
	if email == "" {
		return out
	}
	for _, r := range reviews {
		if strings.EqualFold(r.ReviewerEmail, email) {
			out = append(out, r)
		}
	}
	return out
}

// WatchlistOf keeps the entries added by email.
func WatchlistOf(entries []WatchlistEntry, email string) []WatchlistEntry {
	out := make([]WatchlistEntry, 0)
	if email == "" {
		return out
	}
	for _, e := range entries {
		if strings.EqualFold(e.AddedByEmail, email) {
			out = append(out, e)
		}
	}
	return out
}

// Page is one page of a paginated listing. Number is 1-based.
type Page[T any] struct {
	Items      []T
	Number     int
	TotalPages int
	Total      int
}

func (p Page[T]) HasPrev() bool { return p.Number > 1 }
func (p Page[T]) HasNext() bool { return p.Number < p.TotalPages }
func (p Page[T]) Prev() int     { return p.Number - 1 }
func (p Page[T]) Next() int     { return p.Number + 1 }

// Paginate returns page number of items. Out of range numbers are clamped.
func Paginate[T any](items []T, number, perPage int) Page[T] {
	if perPage <= 0 {
		perPage = len(items)
		if perPage == 0 {
			perPage = 1
		}
	}
	total := len(items)
	pages := (total + perPage - 1) / perPage
	if pages == 0 {
		pages = 1
	}
	number = min(max(number, 1), pages)

	start := (number - 1) * perPage
	end := min(start+perPage, total)
	return Page[T]{Items: items[start:end], Number: number, TotalPages: pages, Total: total}
}

// Stars renders a 1..10 rating on a five star scale.
func Stars(rating Number) []bool {
	filled := int((rating + 1) / 2)
	stars := make([]bool, 5)
	for i := range stars {
		stars[i] = i < filled
	}
	return stars
}

// ValidationError maps form fields to problems with them.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "invalid review: " + strings.Join(parts, "; ")
}

// IsValidation reports whether err is a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// Validate checks a new review. now bounds the publishing year.
func (in ReviewInput) Validate(now time.Time) error {
	fields := map[string]string{}
	if strings.TrimSpace(in.Title) == "" {
		fields["title"] = "Title is required"
	}
	checkImage(fields, in.ImageURL)
	if strings.TrimSpace(in.Review) == "" {
		fields["review"] = "Review is required"
	}
	checkRating(fields, in.Rating)
	if in.PublishingYear < MinYear || in.PublishingYear > now.Year() {
		fields["publishingYear"] = "Publishing year must be between 1950 and this year"
	}
	if !slices.Contains(Genres, in.Genre) {
		fields["genre"] = "Choose a genre"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

// Validate checks an edit to a published review.
func (u ReviewUpdate) Validate() error {
	fields := map[string]string{}
	checkImage(fields, u.ImageURL)
	if strings.TrimSpace(u.Review) == "" {
		fields["review"] = "Review is required"
	}
	checkRating(fields, u.Rating)
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

func checkImage(fields map[string]string, raw string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		fields["imageUrl"] = "Image URL is required"
		return
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		fields["imageUrl"] = "Image URL must be an http(s) link"
	}
}

func checkRating(fields map[string]string, rating int) {
	if rating < MinRating || rating > MaxRating {
		fields["rating"] = "Rating must be between 1 and 10"
	}
}
