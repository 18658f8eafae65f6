package httprouter

import (
	"errors"
	"log/slog"
	"net/http"

	"vidgrab/internal/consts"
	"vidgrab/internal/errs"
	"vidgrab/internal/infrastructure/delivery/http/middleware"
	"vidgrab/internal/infrastructure/delivery/http/request"
	"vidgrab/internal/infrastructure/delivery/http/response"
	"vidgrab/internal/service"
)

// Login exchanges form credentials for a bearer token.
func (r *Router) Login(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	log := r.log.With(slog.String("handler", "Login"), slog.String("request_id", middleware.RequestIDFromContext(ctx)))

	req.Body = http.MaxBytesReader(w, req.Body, r.cfg.MaxBodyBytes)

	in, err := request.ParseLogin(req)
	if err != nil {
		log.InfoContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	token, err := r.deps.Users.Login(ctx, in.Username, in.Password)

	switch {
	case errors.Is(err, errs.ErrBadCredentials):
		response.BadRequest(w, consts.RespBadCredentials, err)
	case errors.Is(err, errs.ErrInactiveUser):
		response.BadRequest(w, consts.RespInactiveUser, err)
	case errors.Is(err, errs.ErrStoreUnavailable):
		log.ErrorContext(ctx, "login", slog.Any("error", err))
		response.ServiceUnavailable(w, consts.RespServiceUnavailable, errs.ErrStoreUnavailable)
	case err != nil:
		log.ErrorContext(ctx, "login", slog.Any("error", err))
		response.InternalServerError(w, consts.RespInternalError, nil)
	default:
		response.JSON(w, http.StatusOK, token)
	}
}

// Signup creates an account.
func (r *Router) Signup(w http.ResponseWriter, req *http.Request) {
	ctx := req.Context()
	log := r.log.With(slog.String("handler", "Signup"), slog.String("request_id", middleware.RequestIDFromContext(ctx)))

	req.Body = http.MaxBytesReader(w, req.Body, r.cfg.MaxBodyBytes)

	var in service.Signup
	if err := request.DecodeJSON(req.Body, &in); err != nil {
		log.InfoContext(ctx, consts.RespInvalidRequestBody, slog.Any("error", err))
		response.BadRequest(w, consts.RespInvalidRequestBody, err)

		return
	}

	user, err := r.deps.Users.Signup(ctx, in)

	switch {
	case errors.Is(err, errs.ErrUserExists):
		response.BadRequest(w, consts.RespUsernameTaken, errs.ErrUserExists)
	case errors.Is(err, errs.ErrInvalidUsername), errors.Is(err, errs.ErrInvalidEmail), errors.Is(err, errs.ErrInvalidPassword):
		response.BadRequest(w, consts.RespSignupFailed, err)
	case errors.Is(err, errs.ErrStoreUnavailable):
		log.ErrorContext(ctx, "signup", slog.Any("error", err))
		response.ServiceUnavailable(w, consts.RespServiceUnavailable, errs.ErrStoreUnavailable)
	case err != nil:
		log.ErrorContext(ctx, "signup", slog.Any("error", err))
		response.InternalServerError(w, consts.RespSignupFailed, nil)
	default:
		log.InfoContext(ctx, "user created", slog.Any("user", user))
		response.JSON(w, http.StatusCreated, user)
	}
}
