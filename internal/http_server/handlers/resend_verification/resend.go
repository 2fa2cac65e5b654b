package resendVerification

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
	"github.com/go-playground/validator/v10"
)

type Request struct {
	Email string `json:"email" validate:"required,email"`
}

type Response struct {
	resp.Response
	Message string `json:"message,omitempty"`
}

type VerificationResender interface {
	ResendVerification(ctx context.Context, email string) error
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	resender VerificationResender,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.resendVerification.New"

		log := log.With(
			slog.String("op", op),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)

		var req Request

		err := render.DecodeJSON(r.Body, &req)
		if err != nil {
			log.Error("failed to decode request body", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.Error("Failed to decode request"))

			return
		}

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := resender.ResendVerification(ctx, req.Email); err != nil {
			if errors.Is(err, auth.ErrAccountNotFound) {
				render.Status(r, http.StatusNotFound)
				render.JSON(w, r, resp.Error("User not found"))

				return
			}

			log.Error("failed to resend verification email", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("verification email resent")

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Message:  "If your account is not yet activated, a new verification email has been sent.",
		})
	}
}
