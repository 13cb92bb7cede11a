package httpserver

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Clark-Hu/bp-ratings/internal/domain"
	"github.com/Clark-Hu/bp-ratings/internal/ratings"
)

const maxRequestBody = 1 << 20 // 1 MiB

type errorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

type ratingRequest struct {
	Transparency   int `json:"transparency"`
	Infrastructure int `json:"infrastructure"`
	Trust          int `json:"trust"`
	Community      int `json:"community"`
	Development    int `json:"development"`
}

func (r ratingRequest) scores() domain.Scores {
	return domain.Scores{
		domain.Transparency:   r.Transparency,
		domain.Infrastructure: r.Infrastructure,
		domain.Trust:          r.Trust,
		domain.Community:      r.Community,
		domain.Development:    r.Development,
	}
}

type ratingResponse struct {
	Producer       domain.Name `json:"producer"`
	Rater          domain.Name `json:"rater"`
	Transparency   int         `json:"transparency"`
	Infrastructure int         `json:"infrastructure"`
	Trust          int         `json:"trust"`
	Community      int         `json:"community"`
	Development    int         `json:"development"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

type ratingListResponse struct {
	Items []ratingResponse `json:"items"`
}

type summaryResponse struct {
	Producer       domain.Name `json:"producer"`
	Transparency   float64     `json:"transparency"`
	Infrastructure float64     `json:"infrastructure"`
	Trust          float64     `json:"trust"`
	Community      float64     `json:"community"`
	Development    float64     `json:"development"`
	RatingCount    uint32      `json:"ratingCount"`
	Average        float64     `json:"average"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

type producerResponse struct {
	Owner      domain.Name `json:"owner"`
	URL        string      `json:"url"`
	TotalVotes float64     `json:"totalVotes"`
	Active     bool        `json:"active"`
	SyncedAt   time.Time   `json:"syncedAt"`
}

type producerListResponse struct {
	Items []producerResponse `json:"items"`
}

type scoreRangeDetails struct {
	Category string `json:"category"`
	Value    int    `json:"value"`
	Min      int    `json:"min"`
	Max      int    `json:"max"`
}

func (s *Server) handleSubmitRating(w http.ResponseWriter, r *http.Request) {
	producer, ok := s.producerParam(w, r)
	if !ok {
		return
	}
	rater, ok := s.raterHeader(w, r)
	if !ok {
		return
	}

	var req ratingRequest
	if err := decodeJSONBody(w, r, &req); err != nil {
		s.respondDecodeError(w, err)
		return
	}

	rating, inserted, err := s.engine.SubmitRating(r.Context(), rater, rater, producer, req.scores())
	if err != nil {
		s.respondEngineError(w, err, "submit rating")
		return
	}

	status := http.StatusOK
	if inserted {
		status = http.StatusCreated
		w.Header().Set("Location", fmt.Sprintf("/producers/%s/ratings/%s", producer, rater))
	}
	s.respondJSON(w, status, toRatingResponse(rating))
}

func (s *Server) handleRemoveRating(w http.ResponseWriter, r *http.Request) {
	producer, ok := s.producerParam(w, r)
	if !ok {
		return
	}
	rater, ok := s.raterHeader(w, r)
	if !ok {
		return
	}

	if err := s.engine.RemoveRating(r.Context(), rater, rater, producer); err != nil {
		s.respondEngineError(w, err, "remove rating")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListRatings(w http.ResponseWriter, r *http.Request) {
	producer, ok := s.producerParam(w, r)
	if !ok {
		return
	}

	rows, err := s.engine.Ratings(r.Context(), producer)
	if err != nil {
		s.respondEngineError(w, err, "list ratings")
		return
	}
	items := make([]ratingResponse, 0, len(rows))
	for _, row := range rows {
		items = append(items, toRatingResponse(row))
	}
	s.respondJSON(w, http.StatusOK, ratingListResponse{Items: items})
}

func (s *Server) handleGetRating(w http.ResponseWriter, r *http.Request) {
	producer, ok := s.producerParam(w, r)
	if !ok {
		return
	}
	rater, err := domain.ParseName(chi.URLParam(r, "rater"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid rater account name")
		return
	}

	rating, err := s.engine.Rating(r.Context(), rater, producer)
	if err != nil {
		s.respondEngineError(w, err, "get rating")
		return
	}
	s.respondJSON(w, http.StatusOK, toRatingResponse(rating))
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	producer, ok := s.producerParam(w, r)
	if !ok {
		return
	}

	summary, err := s.engine.Summary(r.Context(), producer)
	if err != nil {
		s.respondEngineError(w, err, "get summary")
		return
	}
	s.respondJSON(w, http.StatusOK, toSummaryResponse(summary))
}

func (s *Server) handleListProducers(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Producer registry is not configured")
		return
	}
	producers, err := s.registry.List(r.Context())
	if err != nil {
		s.logger.Printf("list producers error: %v", err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list producers")
		return
	}
	items := make([]producerResponse, 0, len(producers))
	for _, p := range producers {
		items = append(items, producerResponse{
			Owner:      p.Owner,
			URL:        p.URL,
			TotalVotes: p.TotalVotes,
			Active:     p.Active,
			SyncedAt:   p.SyncedAt,
		})
	}
	s.respondJSON(w, http.StatusOK, producerListResponse{Items: items})
}

func (s *Server) handleRemoveAllForProducer(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	producer, ok := s.producerParam(w, r)
	if !ok {
		return
	}

	removed, err := s.engine.RemoveAllForTarget(r.Context(), s.cfg.AdminAccount, producer)
	if err != nil {
		s.respondEngineError(w, err, "remove producer ratings")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"removed": removed})
}

func (s *Server) handlePurgeInactive(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	purged, err := s.engine.PurgeInactiveTargets(r.Context(), s.cfg.AdminAccount)
	if err != nil {
		s.respondEngineError(w, err, "purge inactive producers")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"purged": purged})
}

func (s *Server) handleWipe(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if err := s.engine.WipeAll(r.Context(), s.cfg.AdminAccount); err != nil {
		s.respondEngineError(w, err, "wipe ratings")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSyncProducers(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	if s.syncer == nil {
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "Producer sync is not configured")
		return
	}
	synced, err := s.syncer.Sync(r.Context())
	if err != nil {
		s.logger.Printf("sync producers error: %v", err)
		s.respondError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "Failed to sync producers")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]int{"synced": synced})
}

func (s *Server) producerParam(w http.ResponseWriter, r *http.Request) (domain.Name, bool) {
	producer, err := domain.ParseName(chi.URLParam(r, "producer"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid producer account name")
		return 0, false
	}
	return producer, true
}

func (s *Server) raterHeader(w http.ResponseWriter, r *http.Request) (domain.Name, bool) {
	rater, err := domain.ParseName(strings.TrimSpace(r.Header.Get("X-Rater-Id")))
	if err != nil {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return 0, false
	}
	return rater, true
}

func (s *Server) requireAdmin(w http.ResponseWriter, r *http.Request) bool {
	if !s.verifyBearer(r.Header.Get("Authorization")) {
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
		return false
	}
	return true
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return nil
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload != nil {
		if err := json.NewEncoder(w).Encode(payload); err != nil {
			s.logger.Printf("failed to encode response: %v", err)
		}
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, code, message string) {
	s.respondJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

func (s *Server) respondDecodeError(w http.ResponseWriter, err error) {
	var syntaxError *json.SyntaxError
	var typeError *json.UnmarshalTypeError
	switch {
	case errors.As(err, &syntaxError), errors.Is(err, io.ErrUnexpectedEOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Malformed JSON payload")
	case errors.As(err, &typeError):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", fmt.Sprintf("Invalid value for field %s", typeError.Field))
	case errors.Is(err, io.EOF):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Request body cannot be empty")
	default:
		s.respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "Unable to parse request body")
	}
}

// respondEngineError maps engine rejections to status codes. Anything that is
// not a rejection or a missing record is logged and reported as a 500.
func (s *Server) respondEngineError(w http.ResponseWriter, err error, action string) {
	var rangeErr *ratings.ScoreRangeError
	switch {
	case errors.Is(err, ratings.ErrUnauthorized):
		s.respondError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Missing or invalid authentication information")
	case errors.As(err, &rangeErr):
		s.respondJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Code:    "VALIDATION_ERROR",
			Message: fmt.Sprintf("%s score must be between %d and %d", rangeErr.Category, rangeErr.Min, rangeErr.Max),
			Details: scoreRangeDetails{
				Category: rangeErr.Category.String(),
				Value:    rangeErr.Value,
				Min:      rangeErr.Min,
				Max:      rangeErr.Max,
			},
		})
	case errors.Is(err, ratings.ErrEmptySubmission):
		s.respondError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "At least one category must be scored")
	case errors.Is(err, ratings.ErrInvalidTarget):
		s.respondError(w, http.StatusNotFound, "INVALID_TARGET", "Producer is not registered or not active")
	case errors.Is(err, ratings.ErrInactiveProxy),
		errors.Is(err, ratings.ErrInsufficientVotersForProxy),
		errors.Is(err, ratings.ErrInsufficientVoters):
		s.respondError(w, http.StatusForbidden, "NOT_ELIGIBLE", strings.TrimPrefix(err.Error(), "ratings: "))
	case errors.Is(err, domain.ErrNotFound):
		s.respondError(w, http.StatusNotFound, "NOT_FOUND", "Resource not found")
	default:
		s.logger.Printf("%s error: %v", action, err)
		s.respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to "+action)
	}
}

func toRatingResponse(rating domain.Rating) ratingResponse {
	return ratingResponse{
		Producer:       rating.Target,
		Rater:          rating.Rater,
		Transparency:   rating.Scores[domain.Transparency],
		Infrastructure: rating.Scores[domain.Infrastructure],
		Trust:          rating.Scores[domain.Trust],
		Community:      rating.Scores[domain.Community],
		Development:    rating.Scores[domain.Development],
		CreatedAt:      rating.CreatedAt,
		UpdatedAt:      rating.UpdatedAt,
	}
}

func toSummaryResponse(summary domain.Summary) summaryResponse {
	return summaryResponse{
		Producer:       summary.Target,
		Transparency:   summary.Means[domain.Transparency],
		Infrastructure: summary.Means[domain.Infrastructure],
		Trust:          summary.Means[domain.Trust],
		Community:      summary.Means[domain.Community],
		Development:    summary.Means[domain.Development],
		RatingCount:    summary.RatingCount,
		Average:        summary.OverallAverage,
		UpdatedAt:      summary.UpdatedAt,
	}
}

func (s *Server) verifyBearer(header string) bool {
	if header == "" {
		return false
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return token == s.cfg.AuthToken
}
