package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Number is an integer the review service may encode as a JSON number or a
// numeric string. Unparseable values decode as zero.
type Number int

func (n *Number) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		*n = 0
		return nil
	}
	*n = Number(math.Round(f))
	return nil
}

// Review is a game review as stored by the review service.
type Review struct {
	ID             string `json:"_id,omitempty"`
	Title          string `json:"title"`
	ImageURL       string `json:"imageUrl"`
	Review         string `json:"review"`
	Rating         Number `json:"rating"`
	PublishingYear Number `json:"publishingYear"`
	Genre          string `json:"genre"`
	ReviewerName   string `json:"reviewerName"`
	ReviewerEmail  string `json:"reviewerEmail"`
}

// ReviewInput is the user-editable part of a new review.
type ReviewInput struct {
	Title          string
	ImageURL       string
	Review         string
	Rating         int
	PublishingYear int
	Genre          string
}

// ReviewUpdate holds the fields a reviewer may change after publishing.
type ReviewUpdate struct {
	ImageURL string `json:"imageUrl"`
	Rating   int    `json:"rating"`
	Review   string `json:"review"`
}

// WatchlistEntry is a review saved to a user's watchlist. It copies the
// review at the time it was added.
type WatchlistEntry struct {
	ID             string `json:"_id,omitempty"`
	ReviewID       string `json:"reviewId"`
	ImageURL       string `json:"imageUrl"`
	Title          string `json:"title"`
	Review         string `json:"review"`
	Rating         Number `json:"rating"`
	PublishingYear Number `json:"publishingYear"`
	Genre          string `json:"genre"`
	ReviewerName   string `json:"reviewerName"`
	ReviewerEmail  string `json:"reviewerEmail"`
	AddedByName    string `json:"addWatchListReviewerName"`
	AddedByEmail   string `json:"addWatchListReviewerEmail"`
}

// writeResult is the service's reply to inserts, updates and deletes.
type writeResult struct {
	InsertedID    string `json:"insertedId"`
	MatchedCount  *int   `json:"matchedCount"`
	ModifiedCount int    `json:"modifiedCount"`
	DeletedCount  *int   `json:"deletedCount"`
}

// APIError is a non-success reply from the review service.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("review service: status %d", e.Status)
	}
	return fmt.Sprintf("review service: status %d: %s", e.Status, e.Message)
}
