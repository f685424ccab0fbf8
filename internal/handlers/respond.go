package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"gymble/internal/engine"
	"gymble/internal/verification"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine failures onto status codes. Anything it does
// not recognize is logged and reported as a 500.
func writeEngineError(w http.ResponseWriter, log *zap.Logger, err error) {
	var (
		ve *engine.ValidationError
		ce *engine.ConflictError
		se *verification.StatusError
	)
	switch {
	case errors.As(err, &ve):
		writeError(w, http.StatusBadRequest, ve.Reason)
	case errors.As(err, &se):
		writeError(w, http.StatusBadRequest, se.Error())
	case errors.As(err, &ce):
		writeError(w, http.StatusConflict, ce.Reason)
	case errors.Is(err, engine.ErrNotFound):
		writeError(w, http.StatusNotFound, "Not found")
	default:
		log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

var validate = func() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		return name
	})
	return v
}()

// decode reads a JSON body into v and checks its validate tags.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	if err := validate.Struct(v); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) {
			writeError(w, http.StatusBadRequest, fieldMessage(fields[0]))
		} else {
			writeError(w, http.StatusBadRequest, "Invalid request body")
		}
		return false
	}
	return true
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	case "gt", "gte":
		return fmt.Sprintf("%s must be a positive number", fe.Field())
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
