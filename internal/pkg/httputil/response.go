// Package httputil provides the JSON response envelopes, error
// mapping and middleware shared by all HTTP handlers.
package httputil

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
)

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Error("encode response", "error", err)
	}
}

// JSON writes payload as-is, with no envelope. Use Success for the
// standard {"data": ...} wrapping.
func JSON(w http.ResponseWriter, status int, payload interface{}) {
	writeJSON(w, status, payload)
}

// Text writes a plain text response.
func Text(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := w.Write([]byte(text)); err != nil {
		slog.Error("write response", "error", err)
	}
}

// Success wraps data in the {"data": ...} envelope.
func Success(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, map[string]interface{}{"data": data})
}

// Error wraps message in the {"error": {"message": ...}} envelope.
func Error(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{"message": message},
	})
}

// ValidationError writes a 400 with per-field details when err is a
// validator.ValidationErrors, and with err.Error() otherwise.
func ValidationError(w http.ResponseWriter, err error) {
	var details interface{} = err.Error()

	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		fields := make([]map[string]string, 0, len(fieldErrs))
		for _, fe := range fieldErrs {
			fields = append(fields, map[string]string{
				"field":   fe.Field(),
				"message": fe.Tag(),
			})
		}
		details = fields
	}

	writeJSON(w, http.StatusBadRequest, map[string]interface{}{
		"error": map[string]interface{}{
			"message": "validation error",
			"details": details,
		},
	})
}
