package login

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
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type Response struct {
	resp.Response
	AccessToken string `json:"access_token,omitempty"`
}

type AccountLoginer interface {
	Login(ctx context.Context, email, password string) (string, error)
}

func New(
	log *slog.Logger,
	validate *validator.Validate,
	loginer AccountLoginer,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const op = "handlers.login.New"

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

		accessToken, err := loginer.Login(ctx, req.Email, req.Password)
		if err != nil {
			switch {
			case errors.Is(err, auth.ErrInvalidCredentials):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Invalid email or password"))
			case errors.Is(err, auth.ErrAccountNotActivated):
				render.Status(r, http.StatusBadRequest)
				render.JSON(w, r, resp.Error("Account is not activated. Please check your email."))
			default:
				log.Error("failed to login", sl.Err(err))

				render.Status(r, http.StatusInternalServerError)
				render.JSON(w, r, resp.Error("Internal error"))
			}

			return
		}

		log.Info("login successful")

		render.JSON(w, r, Response{
			Response:    resp.OK(),
			AccessToken: accessToken,
		})
	}
}
