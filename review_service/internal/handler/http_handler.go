package handler

import (
	"context"
	"embed"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/DeadlyParkour777/peer-review/pkg/utils"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/auth"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/lifecycle"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/planner"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/service"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/store"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/types"
	"github.com/DeadlyParkour777/peer-review/review_service/internal/validation"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	httpSwagger "github.com/swaggo/http-swagger"
)

//go:embed openapi.yaml
var openApiSpec embed.FS

type userCtxKey string

const userIDKey = userCtxKey("userID")
const userRoleKey = userCtxKey("userRole")

const jobAll = "all"

type Handler struct {
	service   service.Service
	lifecycle lifecycle.Service
	verifier  auth.Verifier
	validator *validator.Validate
}

func NewHandler(service service.Service, lifecycle lifecycle.Service, verifier auth.Verifier) *Handler {
	return &Handler{
		service:   service,
		lifecycle: lifecycle,
		verifier:  verifier,
		validator: validator.New(),
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		data, err := openApiSpec.ReadFile("openapi.yaml")
		if err != nil {
			http.Error(w, "Spec not found", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/x-yaml")
		w.Write(data)
	})

	r.Get("/swagger", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/swagger/", http.StatusMovedPermanently)
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/openapi.yaml"),
	))

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		utils.WriteJSON(w, http.StatusOK, "Review service is running")
	})

	r.Group(func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Get("/assignments", h.handleListAssignments)
		r.Post("/assignments/{assignmentID}/review", h.handleSubmitReview)

		r.Route("/admin", func(r chi.Router) {
			r.Use(h.AdminOnlyMiddleware)
			r.Post("/contests/{contestID}/assignments", h.handlePlanContest)
			r.Post("/submissions/{submissionID}/score", h.handleCalculateScore)
			r.Post("/submissions/{submissionID}/verification", h.handleRequestVerification)
			r.Put("/users/{userID}/ban", h.handleSetBanned)
			r.Post("/jobs/{job}", h.handleRunJob)
		})
	})

	return r
}

func (h *Handler) AdminOnlyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		role, ok := r.Context().Value(userRoleKey).(string)
		if !ok {
			utils.WriteError(w, http.StatusInternalServerError, "Could not retrieve user role")
			return
		}

		if role != auth.RoleAdmin {
			utils.WriteError(w, http.StatusForbidden, "Forbidden: Admins only")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			utils.WriteError(w, http.StatusUnauthorized, "Authorization header is required")
			return
		}

		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok || token == "" {
			utils.WriteError(w, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims, err := h.verifier.Verify(token)
		if err != nil {
			utils.WriteError(w, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		banned, err := h.service.IsBanned(r.Context(), claims.UserID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				utils.WriteError(w, http.StatusUnauthorized, "Unknown user")
				return
			}
			writeServiceError(w, err)
			return
		}
		if banned {
			utils.WriteError(w, http.StatusForbidden, "Account is banned")
			return
		}

		ctx := context.WithValue(r.Context(), userIDKey, claims.UserID)
		ctx = context.WithValue(ctx, userRoleKey, claims.Role)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// writeServiceError maps domain errors to status codes. Anything unexpected
// is logged in full and reported as a generic 500.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *validation.Error
	switch {
	case errors.As(err, &verr):
		status := http.StatusBadRequest
		if verr.Code == validation.CodeNotOwner {
			status = http.StatusForbidden
		}
		utils.WriteCodedError(w, status, string(verr.Code), verr.Message())
	case errors.Is(err, store.ErrNotFound):
		utils.WriteError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInvalidState),
		errors.Is(err, service.ErrPaymentNotPaid),
		errors.Is(err, service.ErrVerificationIncomplete),
		errors.Is(err, planner.ErrNoEligibleReviewer):
		utils.WriteError(w, http.StatusConflict, err.Error())
	default:
		log.Printf("Request failed: %v", err)
		utils.WriteError(w, http.StatusInternalServerError, "Internal server error, please retry later")
	}
}

func (h *Handler) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)

	assignments, err := h.service.ListMyAssignments(r.Context(), userID)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if assignments == nil {
		assignments = []*types.Assignment{}
	}

	utils.WriteJSON(w, http.StatusOK, assignments)
}

func (h *Handler) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	assignmentID := chi.URLParam(r, "assignmentID")

	var req types.SubmitReviewRequest
	if err := utils.ParseJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	review, err := h.service.SubmitReview(r.Context(), userID, assignmentID, req.Scores(), req.Comment)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, review)
}

func (h *Handler) handlePlanContest(w http.ResponseWriter, r *http.Request) {
	contestID := chi.URLParam(r, "contestID")

	var req types.PlanRequest
	if r.ContentLength != 0 {
		if err := utils.ParseJSON(r, &req); err != nil {
			utils.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if err := h.validator.Struct(req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	plan, err := h.service.PlanContestAssignments(r.Context(), contestID, req.ReviewsPerReviewer)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusCreated, types.PlanResponse{
		ContestID:   contestID,
		Count:       len(plan),
		Assignments: plan,
	})
}

func (h *Handler) handleCalculateScore(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submissionID")

	score, err := h.service.CalculatePeerScore(r.Context(), submissionID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, types.ScoreResponse{SubmissionID: submissionID, ScorePeer: score})
}

func (h *Handler) handleRequestVerification(w http.ResponseWriter, r *http.Request) {
	submissionID := chi.URLParam(r, "submissionID")

	var req types.VerificationRequest
	if err := utils.ParseJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	panel, err := h.service.RequestPeerVerification(r.Context(), submissionID, req.PaymentID)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusAccepted, panel)
}

func (h *Handler) handleSetBanned(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")

	var req types.BanRequest
	if err := utils.ParseJSON(r, &req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.validator.Struct(req); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.SetBanned(r.Context(), userID, *req.Banned); err != nil {
		writeServiceError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func jobResponse(job lifecycle.Job, res lifecycle.BatchResult, err error) types.JobResponse {
	resp := types.JobResponse{Job: string(job), Count: res.Count}
	for _, itemErr := range res.Errors {
		resp.Errors = append(resp.Errors, itemErr.Error())
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (h *Handler) handleRunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")

	if name == jobAll {
		results := h.lifecycle.RunAll(r.Context())
		resp := make([]types.JobResponse, 0, len(results))
		for _, jr := range results {
			resp = append(resp, jobResponse(jr.Job, jr.Result, jr.Err))
		}
		utils.WriteJSON(w, http.StatusOK, resp)
		return
	}

	job, err := lifecycle.ParseJob(name)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.lifecycle.Run(r.Context(), job)
	if err != nil {
		log.Printf("Job %s failed: %v", job, err)
		utils.WriteJSON(w, http.StatusInternalServerError, jobResponse(job, res, err))
		return
	}

	utils.WriteJSON(w, http.StatusOK, jobResponse(job, res, nil))
}
