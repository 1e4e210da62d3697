package api

import (
	"context"
	"net/http"

	"github.com/aidenrawles/synergy/internal/domain/model"
	"github.com/aidenrawles/synergy/internal/domain/scoring"
)

const eventTypeUpdate = "UPDATE"

// RatingDependencies defines what the rating handlers need.
type RatingDependencies interface {
	ScoreStudent(ctx context.Context, studentID string, marks model.Marks) (model.IndividualScore, error)
	ParseTranscript(ctx context.Context, studentID, text string) (model.Marks, model.IndividualScore, error)
	RateGroup(ctx context.Context, roster model.Roster) (scoring.GroupResult, error)
}

// RatingHandler handles student and group rating requests.
type RatingHandler struct {
	deps      RatingDependencies
	validator *requestValidator
}

// NewRatingHandler creates a new rating handler.
func NewRatingHandler(deps RatingDependencies, v *requestValidator) *RatingHandler {
	return &RatingHandler{deps: deps, validator: v}
}

// studentRecord is the row image carried by a student update webhook.
type studentRecord struct {
	StudentID      string      `json:"user_id" validate:"notblank"`
	TranscriptData model.Marks `json:"transcript_data" validate:"dive,gte=0,lte=100"`
}

type individualRatingRequest struct {
	EventType string         `json:"eventType"`
	New       *studentRecord `json:"new"`
	Old       *studentRecord `json:"old"`
}

type individualRatingResponse struct {
	Success         bool                  `json:"success"`
	IndividualMarks model.IndividualScore `json:"individual_marks"`
}

// HandleIndividualRating handles POST /v1/individual-rating.
func (h *RatingHandler) HandleIndividualRating(w http.ResponseWriter, r *http.Request) {
	const op = "api.individual_rating"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req individualRatingRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.EventType != eventTypeUpdate || req.New == nil || req.New.TranscriptData == nil {
		writeError(w, http.StatusBadRequest, "incomplete_update", ErrIncompleteUpdate)
		return
	}
	if fields, err := h.validator.Struct(req.New); err != nil {
		writeValidationError(w, op, fields, err)
		return
	}

	score, err := h.deps.ScoreStudent(r.Context(), req.New.StudentID, req.New.TranscriptData)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, individualRatingResponse{Success: true, IndividualMarks: score})
}

type transcriptRequest struct {
	StudentID string `json:"user_id" validate:"notblank"`
	Text      string `json:"text" validate:"notblank"`
}

type transcriptResponse struct {
	Success         bool                  `json:"success"`
	TranscriptData  model.Marks           `json:"transcript_data"`
	IndividualMarks model.IndividualScore `json:"individual_marks"`
}

// HandleTranscript handles POST /v1/transcripts.
func (h *RatingHandler) HandleTranscript(w http.ResponseWriter, r *http.Request) {
	const op = "api.transcript"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req transcriptRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if fields, err := h.validator.Struct(req); err != nil {
		writeValidationError(w, op, fields, err)
		return
	}

	marks, score, err := h.deps.ParseTranscript(r.Context(), req.StudentID, req.Text)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, transcriptResponse{Success: true, TranscriptData: marks, IndividualMarks: score})
}

// rosterRecord is the row image carried by a group update webhook.
type rosterRecord struct {
	GroupID      int64                `json:"group_id" validate:"gt=0"`
	UserRatings  []model.MemberScores `json:"user_ratings"`
	MembersCount int                  `json:"members_count" validate:"gte=0"`
}

type groupRatingRequest struct {
	New *rosterRecord `json:"new"`
}

type groupRatingResponse struct {
	Success       bool              `json:"success"`
	Eligible      bool              `json:"eligible"`
	GroupRatings  model.GroupRating `json:"group_ratings"`
	UnknownSkills []string          `json:"unknown_skills,omitempty"`
}

// HandleGroupRating handles POST /v1/group-rating.
func (h *RatingHandler) HandleGroupRating(w http.ResponseWriter, r *http.Request) {
	const op = "api.group_rating"
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req groupRatingRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	if req.New == nil || req.New.UserRatings == nil {
		writeError(w, http.StatusBadRequest, "incomplete_update", ErrIncompleteUpdate)
		return
	}
	if fields, err := h.validator.Struct(req.New); err != nil {
		writeValidationError(w, op, fields, err)
		return
	}

	roster := model.Roster{
		GroupID:      req.New.GroupID,
		MembersCount: req.New.MembersCount,
		Members:      req.New.UserRatings,
	}
	res, err := h.deps.RateGroup(r.Context(), roster)
	if err != nil {
		writeServiceError(w, op, err)
		return
	}
	writeJSON(w, http.StatusOK, groupRatingResponse{
		Success:       true,
		Eligible:      res.Eligible,
		GroupRatings:  res.Rating,
		UnknownSkills: res.UnknownSkills,
	})
}

func writeValidationError(w http.ResponseWriter, op string, fields map[string]string, err error) {
	if fields == nil {
		writeError(w, http.StatusBadRequest, "bad_request", WrapKind(op, ErrBadRequest, err))
		return
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{
		Code:    "validation_failed",
		Message: ErrBadRequest.Error(),
		Fields:  fields,
	})
}
