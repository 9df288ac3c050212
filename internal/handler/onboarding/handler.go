package onboarding

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/formpilot/backend/internal/middleware"
	"github.com/zhouzirui/formpilot/backend/internal/model/form"
	authService "github.com/zhouzirui/formpilot/backend/internal/service/auth"
	"github.com/zhouzirui/formpilot/backend/internal/service/dialogue"
	onboardingService "github.com/zhouzirui/formpilot/backend/internal/service/onboarding"
	"github.com/zhouzirui/formpilot/backend/pkg/utils"
)

// UnavailableAnswer is shown to the user when the dialogue engine fails.
const UnavailableAnswer = "Sorry, I can't reach the assistant right now. Please try again in a moment."

// Handler serves the assistant endpoints. Every route expects a token placed
// in the request context by middleware.RequireToken.
type Handler struct {
	svc *onboardingService.Service
}

// New 创建引导流程处理器
func New(svc *onboardingService.Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册引导流程路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/start-agent", h.handleStart)
	r.Get("/ask-agent/{prompt}", h.handleAsk)
	r.Post("/update-form-field", h.handleUpdateField)
}

type answerResponse struct {
	Answer string `json:"answer"`
}

type unavailableResponse struct {
	Answer string `json:"answer"`
	Error  string `json:"error"`
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	token := middleware.TokenFrom(r.Context())
	res, err := h.svc.Start(r.Context(), token, formDataParam(r))
	if err != nil {
		respondFlowError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, res)
}

func (h *Handler) handleAsk(w http.ResponseWriter, r *http.Request) {
	prompt := promptParam(r)
	if prompt == "" {
		utils.RespondError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	token := middleware.TokenFrom(r.Context())
	res, err := h.svc.Ask(r.Context(), token, prompt, formDataParam(r), manualParam(r))
	if err != nil {
		respondFlowError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, answerResponse{Answer: res.Answer})
}

func (h *Handler) handleUpdateField(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name             string     `json:"name"`
		Value            any        `json:"value"`
		CompleteFormData form.State `json:"completeFormData"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(payload.Name) == "" {
		utils.RespondError(w, http.StatusBadRequest, "name is required")
		return
	}

	token := middleware.TokenFrom(r.Context())
	answer, err := h.svc.UpdateField(r.Context(), token, payload.Name, payload.Value, payload.CompleteFormData)
	if err != nil {
		respondFlowError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, answerResponse{Answer: answer})
}

func respondFlowError(w http.ResponseWriter, err error) {
	if errors.Is(err, authService.ErrUnauthenticated) {
		utils.RespondError(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	if errors.Is(err, dialogue.ErrDialogueUnavailable) {
		log.Warn().Err(err).Str("component", "onboarding").Msg("dialogue unavailable")
		utils.RespondJSON(w, http.StatusServiceUnavailable, unavailableResponse{
			Answer: UnavailableAnswer,
			Error:  "dialogue unavailable",
		})
		return
	}
	log.Error().Err(err).Str("component", "onboarding").Msg("request failed")
	utils.RespondError(w, http.StatusInternalServerError, "internal error")
}

// formDataParam reads the optional URL-encoded JSON form snapshot. A value
// that is not a JSON object is dropped.
func formDataParam(r *http.Request) form.State {
	raw := r.URL.Query().Get("formData")
	state, err := form.ParseState(raw)
	if err != nil {
		log.Warn().Err(err).Str("component", "onboarding").Msg("ignoring malformed formData")
		return nil
	}
	return state
}

// promptParam returns the decoded {prompt} path segment. chi matches on the
// escaped path when one is present.
func promptParam(r *http.Request) string {
	prompt := chi.URLParam(r, "prompt")
	if r.URL.RawPath != "" {
		if unescaped, err := url.PathUnescape(prompt); err == nil {
			prompt = unescaped
		}
	}
	return strings.TrimSpace(prompt)
}

func manualParam(r *http.Request) bool {
	manual, _ := strconv.ParseBool(r.URL.Query().Get("manual"))
	return manual
}
