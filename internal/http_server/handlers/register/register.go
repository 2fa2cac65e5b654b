package register

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
	Email           string `json:"email" validate:"required,email"`
	Name            string `json:"name" validate:"required"`
	Password        string `json:"password" validate:"required"`
	ConfirmPassword string `json:"confirm_password" validate:"required"`
}

type Response struct {
	resp.Response
	Message string `json:"message,omitempty"`
}

type AccountRegistrar interface {
	Register(ctx context.Context, email, name, password, confirmPassword string) error
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	registrar AccountRegistrar,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.register.New"

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

		err = registrar.Register(ctx, req.Email, req.Name, req.Password, req.ConfirmPassword)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrEmailTaken):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Email already in use"))
			case errors.Is(err, auth.ErrPasswordsDoNotMatch):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Passwords do not match"))
			default:
				log.Error("failed to register account", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		log.Info("account registered")

		render.JSON(w, r, Response{
			Response: resp.OK(),
			Message:  "Registration successful. Please check your email to activate your account.",
		})
	}
}
