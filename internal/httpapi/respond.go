package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/budgetteenhelp-blip/budgetteen-sub001/internal/progress"
	"github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/logging"
	sharederrors "github.com/budgetteenhelp-blip/budgetteen-sub001/pkg/errors"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, r *http.Request, code, message string) {
	writeJSON(w, sharederrors.ToStatusCode(code), sharederrors.ErrorResponse{
		Code:      code,
		Message:   message,
		RequestID: middleware.GetReqID(r.Context()),
	})
}

func (h *handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, progress.ErrUnauthenticated):
		writeError(w, r, sharederrors.CodeUnauthenticated, "authentication required")
	case errors.Is(err, progress.ErrNotFound):
		writeError(w, r, sharederrors.CodeNotFound, detail(err, progress.ErrNotFound))
	case errors.Is(err, progress.ErrForbidden):
		writeError(w, r, sharederrors.CodeForbidden, detail(err, progress.ErrForbidden))
	case errors.Is(err, progress.ErrInvalidInput):
		writeError(w, r, sharederrors.CodeBadRequest, detail(err, progress.ErrInvalidInput))
	case errors.Is(err, progress.ErrConflict):
		writeError(w, r, sharederrors.CodeConflict, detail(err, progress.ErrConflict))
	default:
		logging.FromRequest(r.Context(), h.logger).Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Any("error", err),
		)
		writeError(w, r, sharederrors.CodeInternal, "internal server error")
	}
}

// detail returns the part of err's message after the sentinel prefix.
func detail(err, sentinel error) string {
	msg := err.Error()
	if i := strings.Index(msg, sentinel.Error()+": "); i >= 0 {
		return msg[i+len(sentinel.Error())+2:]
	}
	return sentinel.Error()
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, progress.ErrInvalidInput) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: request body is required", progress.ErrInvalidInput)
		}
		return fmt.Errorf("%w: malformed JSON body: %v", progress.ErrInvalidInput, err)
	}
	return nil
}
