package errors

import (
	"net/http"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// InternalError logs err with the request id and answers a generic 500.
func InternalError(w http.ResponseWriter, r *http.Request, err error, message string) {
	event(r, zerolog.ErrorLevel).Err(err).Msg(message)
	http.Error(w, "internal server error", http.StatusInternalServerError)
}

// BadRequestError logs err and answers 400 with clientMessage.
func BadRequestError(w http.ResponseWriter, r *http.Request, err error, clientMessage string) {
	event(r, zerolog.WarnLevel).Err(err).Msg("bad request")
	http.Error(w, clientMessage, http.StatusBadRequest)
}

// BadGatewayError logs a failed upstream call and answers 502.
func BadGatewayError(w http.ResponseWriter, r *http.Request, err error, message string) {
	event(r, zerolog.ErrorLevel).Err(err).Msg(message)
	http.Error(w, "the review service is unavailable", http.StatusBadGateway)
}

func LogError(r *http.Request, message string, err error) {
	event(r, zerolog.ErrorLevel).Err(err).Msg(message)
}

func LogWarn(r *http.Request, message string, err error) {
	event(r, zerolog.WarnLevel).Err(err).Msg(message)
}

func LogInfo(r *http.Request, message string) {
	event(r, zerolog.InfoLevel).Msg(message)
}

func event(r *http.Request, level zerolog.Level) *zerolog.Event {
	e := hlog.FromRequest(r).WithLevel(level)
	if requestID := middleware.GetReqID(r.Context()); requestID != "" {
		e = e.Str("request_id", requestID)
	}
	return e
}
