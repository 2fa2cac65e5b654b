package forgotPassword

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

type PasswordResetInitiator interface {
	ForgotPassword(ctx context.Context, email string) error
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	initiator PasswordResetInitiator,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.forgotPassword.New"

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

		log.Info("request body decoded")

		if err := validate.Struct(req); err != nil {
			validateErr := err.(validator.ValidationErrors)

			log.Error("invalid request", sl.Err(err))

			render.Status(r, http.StatusBadRequest)
			render.JSON(w, r, resp.ValidationError(validateErr))

			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		if err := initiator.ForgotPassword(ctx, req.Email); err != nil {
			if errors.Is(err, auth.ErrAccountNotFound) {
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("User not found with this email"))

				return
			}

			log.Error("failed to initiate password reset", sl.Err(err))

			render.Status(r, http.StatusInternalServerError)
			render.JSON(w, r, resp.Error("Internal error"))

			return
		}

		log.Info("password reset initiated")

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Message:  "Password reset link has been sent to your email.",
		})
	}
}
