package verify

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"account_service/internal/auth"
	resp "account_service/internal/lib/api/response"
	sl "account_service/internal/lib/logger"

	"github.com/go-chi/chi/middleware"
	"github.com/go-chi/render"
)

type Response struct {
	resp.Response
	Message string `json:"message,omitempty"`
}

type AccountVerifier interface {
	VerifyAccount(ctx context.Context, verificationToken string) error
}

func New(
	log *slog.Logger,
	verifier AccountVerifier,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.verify.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		token := r.URL.Query().Get("token")
		if token == "" {
			log.Warn("missing verification token")

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Missing token"))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := verifier.VerifyAccount(ctx, token); err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidVerificationToken):
				log.Warn("invalid verification token")

				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Invalid verification token"))
			case errors.Is(err, auth.ErrAccountAlreadyActive):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Account already activated"))
			default:
				log.Error("failed to verify account", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		log.Info("account verified")

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Message:  "Account activated successfully. You can now log in.",
		})
	}
}
