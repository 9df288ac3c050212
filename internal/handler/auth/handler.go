package auth

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/formpilot/backend/internal/middleware"
	authService "github.com/zhouzirui/formpilot/backend/internal/service/auth"
	"github.com/zhouzirui/formpilot/backend/pkg/utils"
)

// Service is the subset of the onboarding service used for login/logout.
type Service interface {
	Login(password string) (string, error)
	Logout(token string) error
}

// Handler 登录相关的HTTP处理器
type Handler struct {
	svc Service
}

// New 创建登录处理器
func New(svc Service) *Handler {
	return &Handler{svc: svc}
}

// RegisterRoutes 注册登录路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/login", h.handleLogin)
	r.Post("/logout", h.handleLogout)
}

type loginResponse struct {
	Token   string `json:"token,omitempty"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Password string `json:"password"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	token, err := h.svc.Login(payload.Password)
	switch {
	case errors.Is(err, authService.ErrInvalidCredentials):
		utils.RespondJSON(w, http.StatusUnauthorized, loginResponse{Error: "Invalid password"})
		return
	case err != nil:
		log.Error().Err(err).Str("component", "auth").Msg("login failed")
		utils.RespondError(w, http.StatusInternalServerError, "login failed")
		return
	}

	utils.RespondJSON(w, http.StatusOK, loginResponse{Token: token, Success: true})
}

// handleLogout always succeeds; an unknown or missing token is a no-op.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := middleware.BearerToken(r); token != "" {
		if err := h.svc.Logout(token); err != nil {
			log.Warn().Err(err).Str("component", "auth").Msg("logout persistence failed")
		}
	}
	utils.RespondJSON(w, http.StatusOK, loginResponse{Success: true})
}
