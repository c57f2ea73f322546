package ui

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"gitea.jw6.us/james/gamereview/internal/auth"
	"gitea.jw6.us/james/gamereview/internal/backend"
	httperrors "gitea.jw6.us/james/gamereview/internal/http/errors"
	"gitea.jw6.us/james/gamereview/internal/session"
)

const highestRatedCount = 6

// Home shows the highest rated games.
func (h *Handler) Home(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.reviews.ListReviews(r.Context())
	if err != nil {
		httperrors.LogError(r, "list reviews for home page", err)
	}
	h.render(w, r, "home.html", h.page(r, "Home", map[string]any{
		"HighestRated": backend.HighestRated(reviews, highestRatedCount),
		"Unavailable":  err != nil,
	}))
}

// Reviews lists the catalog, filtered by genre and sorted by rating or year.
func (h *Handler) Reviews(w http.ResponseWriter, r *http.Request) {
	reviews, err := h.reviews.ListReviews(r.Context())
	if err != nil {
		h.backendFailure(w, r, err, "list reviews")
		return
	}

	q := r.URL.Query()
	genre := q.Get("genre")
	sortKey := backend.ParseSortKey(q.Get("sort"))
	descending := q.Get("order") != "asc"

	filtered := backend.SortReviews(backend.FilterByGenre(reviews, genre), sortKey, descending)
	page := backend.Paginate(filtered, parsePage(r), h.pageSize)

	order := "desc"
	if !descending {
		order = "asc"
	}
	h.render(w, r, "reviews.html", h.page(r, "All Reviews", map[string]any{
		"Page":  page,
		"Genre": genre,
		"Sort":  string(sortKey),
		"Order": order,
	}))
}

// ReviewDetail shows one review.
func (h *Handler) ReviewDetail(w http.ResponseWriter, r *http.Request) {
	review, err := h.reviews.GetReview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.backendFailure(w, r, err, "get review")
		return
	}

	data := map[string]any{"Review": review}
	if s := session.FromContext(r.Context()); s != nil {
		if u := s.Snapshot().User; u != nil {
			data["IsOwner"] = strings.EqualFold(u.Email, review.ReviewerEmail)
		}
	}
	h.render(w, r, "review.html", h.page(r, review.Title, data))
}

// AddReviewPage renders the new review form.
func (h *Handler) AddReviewPage(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, "addreview.html", h.page(r, "Add Review", map[string]any{
		"Form": backend.ReviewInput{},
	}))
}

// CreateReview publishes a review attributed to the signed-in user.
func (h *Handler) CreateReview(w http.ResponseWriter, r *http.Request) {
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid form")
		return
	}
	in := backend.ReviewInput{
		Title:          strings.TrimSpace(r.PostFormValue("title")),
		ImageURL:       strings.TrimSpace(r.PostFormValue("imageUrl")),
		Review:         strings.TrimSpace(r.PostFormValue("review")),
		Rating:         formInt(r, "rating"),
		PublishingYear: formInt(r, "publishingYear"),
		Genre:          r.PostFormValue("genre"),
	}
	if err := in.Validate(h.now()); err != nil {
		h.renderStatus(w, r, http.StatusUnprocessableEntity, "addreview.html", h.page(r, "Add Review", map[string]any{
			"Form":   in,
			"Errors": validationFields(err),
		}))
		return
	}

	attr, err := s.Attribution()
	if err != nil {
		h.backendFailure(w, r, err, "create review")
		return
	}
	if _, err := h.reviews.CreateReview(r.Context(), attr, in); err != nil {
		h.backendFailure(w, r, err, "create review")
		return
	}
	h.redirect(w, r, "/myreviews", map[string]string{"status": "created"})
}

// MyReviews lists the signed-in user's reviews.
func (h *Handler) MyReviews(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	reviews, err := h.reviews.ListReviews(r.Context())
	if err != nil {
		h.backendFailure(w, r, err, "list reviews")
		return
	}
	email := ""
	if user != nil {
		email = user.Email
	}
	h.render(w, r, "myreviews.html", h.page(r, "My Reviews", map[string]any{
		"Reviews": backend.ByReviewer(reviews, email),
	}))
}

// EditReviewPage renders the edit form for one of the user's reviews.
func (h *Handler) EditReviewPage(w http.ResponseWriter, r *http.Request) {
	user, _ := auth.UserFromContext(r.Context())
	review, err := h.reviews.GetReview(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.backendFailure(w, r, err, "get review")
		return
	}
	if user == nil || !strings.EqualFold(user.Email, review.ReviewerEmail) {
		h.backendFailure(w, r, backend.ErrNotOwner, "edit review")
		return
	}
	h.render(w, r, "editreview.html", h.page(r, "Update Review", map[string]any{
		"Review": review,
		"Form": backend.ReviewUpdate{
			ImageURL: review.ImageURL,
			Rating:   int(review.Rating),
			Review:   review.Review,
		},
	}))
}

// UpdateReview saves an edit to one of the user's reviews.
func (h *Handler) UpdateReview(w http.ResponseWriter, r *http.Request) {
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	if err := r.ParseForm(); err != nil {
		httperrors.BadRequestError(w, r, err, "invalid form")
		return
	}
	id := chi.URLParam(r, "id")
	upd := backend.ReviewUpdate{
		ImageURL: strings.TrimSpace(r.PostFormValue("imageUrl")),
		Rating:   formInt(r, "rating"),
		Review:   strings.TrimSpace(r.PostFormValue("review")),
	}
	if err := upd.Validate(); err != nil {
		review, getErr := h.reviews.GetReview(r.Context(), id)
		if getErr != nil {
			h.backendFailure(w, r, getErr, "get review")
			return
		}
		h.renderStatus(w, r, http.StatusUnprocessableEntity, "editreview.html", h.page(r, "Update Review", map[string]any{
			"Review": review,
			"Form":   upd,
			"Errors": validationFields(err),
		}))
		return
	}

	attr, err := s.Attribution()
	if err != nil {
		h.backendFailure(w, r, err, "update review")
		return
	}
	if err := h.reviews.UpdateReview(r.Context(), attr, id, upd); err != nil {
		h.backendFailure(w, r, err, "update review")
		return
	}
	h.redirect(w, r, "/myreviews", map[string]string{"status": "updated"})
}

// DeleteReview removes one of the user's reviews.
func (h *Handler) DeleteReview(w http.ResponseWriter, r *http.Request) {
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	attr, err := s.Attribution()
	if err != nil {
		h.backendFailure(w, r, err, "delete review")
		return
	}
	if err := h.reviews.DeleteReview(r.Context(), attr, chi.URLParam(r, "id")); err != nil {
		h.backendFailure(w, r, err, "delete review")
		return
	}
	h.redirect(w, r, "/myreviews", map[string]string{"status": "deleted"})
}

// Watchlist lists the games the user saved.
func (h *Handler) Watchlist(w http.ResponseWriter, r *http.Request) {
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	attr, err := s.Attribution()
	if err != nil {
		h.backendFailure(w, r, err, "list watchlist")
		return
	}
	entries, err := h.reviews.ListWatchlist(r.Context(), attr)
	if err != nil {
		h.backendFailure(w, r, err, "list watchlist")
		return
	}
	h.render(w, r, "watchlist.html", h.page(r, "Game Watch List", map[string]any{
		"Entries": entries,
	}))
}

// AddToWatchlist saves a review to the user's watchlist.
func (h *Handler) AddToWatchlist(w http.ResponseWriter, r *http.Request) {
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	attr, err := s.Attribution()
	if err != nil {
		h.backendFailure(w, r, err, "add to watchlist")
		return
	}
	review, err := h.reviews.GetReview(r.Context(), id)
	if err != nil {
		h.backendFailure(w, r, err, "get review")
		return
	}

	entries, err := h.reviews.ListWatchlist(r.Context(), attr)
	if err != nil {
		h.backendFailure(w, r, err, "list watchlist")
		return
	}
	for _, e := range entries {
		if e.ReviewID == review.ID {
			h.redirect(w, r, "/reviews/"+id, map[string]string{"status": "already_watched"})
			return
		}
	}

	if _, err := h.reviews.AddToWatchlist(r.Context(), attr, *review); err != nil {
		h.backendFailure(w, r, err, "add to watchlist")
		return
	}
	h.redirect(w, r, "/reviews/"+id, map[string]string{"status": "watchlisted"})
}

// RemoveFromWatchlist deletes one of the user's watchlist entries.
func (h *Handler) RemoveFromWatchlist(w http.ResponseWriter, r *http.Request) {
	s, ok := storeOf(w, r)
	if !ok {
		return
	}
	attr, err := s.Attribution()
	if err != nil {
		h.backendFailure(w, r, err, "remove from watchlist")
		return
	}
	if err := h.reviews.RemoveFromWatchlist(r.Context(), attr, chi.URLParam(r, "id")); err != nil {
		h.backendFailure(w, r, err, "remove from watchlist")
		return
	}
	h.redirect(w, r, "/watchlist", map[string]string{"status": "unwatched"})
}

func formInt(r *http.Request, field string) int {
	n, err := strconv.Atoi(strings.TrimSpace(r.PostFormValue(field)))
	if err != nil {
		return 0
	}
	return n
}

func validationFields(err error) map[string]string {
	var ve *backend.ValidationError
	if errors.As(err, &ve) {
		return ve.Fields
	}
	return map[string]string{"form": err.Error()}
}
