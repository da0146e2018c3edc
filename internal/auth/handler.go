package auth

import (
	"encoding/json"
	"net/http"

	errors "github.com/frahmantamala/skillpay-gateway/internal"
	"github.com/frahmantamala/skillpay-gateway/internal/transport"
	"github.com/frahmantamala/skillpay-gateway/pkg/logger"
)

type ServiceAPI interface {
	Authenticate(dto LoginDTO) (AuthTokens, error)
	ValidateAccessToken(tokenString string) (*Claims, error)
}

type Handler struct {
	*transport.BaseHandler
	Service ServiceAPI
}

func NewHandler(baseHandler *transport.BaseHandler, svc ServiceAPI) *Handler {
	return &Handler{
		BaseHandler: baseHandler,
		Service:     svc,
	}
}

// Login handles POST /api/v1/auth/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var dto LoginDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		h.HandleError(w, errors.NewValidationError("invalid request body", errors.ErrCodeInvalidRequest))
		return
	}

	tokens, err := h.Service.Authenticate(dto)
	if err != nil {
		h.Logger.Warn("operator login failed", "username", dto.Username, "error", err)
		h.HandleServiceError(w, err)
		return
	}

	h.Logger.Info("operator logged in", "username", dto.Username)
	h.WriteSuccess(w, http.StatusOK, tokens, "")
}

// AuthMiddleware rejects requests without a valid operator bearer token.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := h.ExtractTokenFromHeader(r)
		if token == "" {
			h.Logger.Warn("auth middleware: missing authorization token", "path", r.URL.Path)
			h.HandleError(w, errors.NewUnauthorizedError("missing authorization token", errors.ErrCodeInvalidToken))
			return
		}

		claims, err := h.Service.ValidateAccessToken(token)
		if err != nil {
			h.Logger.Warn("auth middleware: token rejected", "path", r.URL.Path, "error", err)
			h.HandleServiceError(w, err)
			return
		}

		ctx := errors.ContextWithOperator(r.Context(), claims.Username)
		ctx = logger.With(ctx, "operator", claims.Username)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
