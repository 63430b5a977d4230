// Package middleware provides HTTP middleware for the ytgrab server.
package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	apperrors "github.com/3leaps/ytgrab/internal/errors"
)

// ErrorResponse is the JSON body written for recovered panics.
type ErrorResponse = apperrors.HTTPErrorResponse

// Logger receives recovered panics. It defaults to a no-op logger.
var Logger = zap.NewNop()

// Recovery turns a panic in next into a 500 error envelope.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			var msg string
			if err, ok := rec.(error); ok {
				msg = "panic: " + err.Error()
			} else {
				msg = fmt.Sprintf("panic: %v", rec)
			}
			reqID := chimw.GetReqID(r.Context())
			Logger.Error("Recovered from panic",
				zap.String("request_id", reqID),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("panic", msg),
				zap.Stack("stack"))

			writeErrorResponse(w, &apperrors.ErrorBody{
				Code:      apperrors.CodeInternal,
				Message:   msg,
				RequestID: reqID,
			}, http.StatusInternalServerError)
		}()
		next.ServeHTTP(w, r)
	})
}

// ErrorHandler is an alias for Recovery.
func ErrorHandler(next http.Handler) http.Handler {
	return Recovery(next)
}

func writeErrorResponse(w http.ResponseWriter, body *apperrors.ErrorBody, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: *body})
}
