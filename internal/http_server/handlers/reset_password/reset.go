package resetPassword

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
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

type Response struct {
	resp.Response
	Message string `json:"message,omitempty"`
}

type PasswordResetter interface {
	ResetPassword(ctx context.Context, resetToken, newPassword string) error
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	resetter PasswordResetter,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.resetPassword.New"

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

		if err := resetter.ResetPassword(ctx, req.Token, req.NewPassword); err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidResetToken):
				log.Warn("invalid reset token")

				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Invalid reset token"))
			case errors.Is(err, auth.ErrResetTokenExpired):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Token has expired"))
			case errors.Is(err, auth.ErrPasswordUnchanged):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("New password must be different from the old password"))
			default:
				log.Error("failed to reset password", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		log.Info("password reset")

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Message:  "Password has been reset successfully. You can now login.",
		})
	}
}
