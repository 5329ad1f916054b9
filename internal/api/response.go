package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/erazemk/shramba/internal/model"
	"github.com/erazemk/shramba/internal/store"
)

// jsonResponse writes a JSON response with the given status code.
func jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			slog.Error("encoding response", "error", err)
		}
	}
}

// jsonError writes a JSON error response.
func jsonError(w http.ResponseWriter, status int, message string) {
	jsonResponse(w, status, map[string]string{"error": message})
}

// collection resolves the result of reading a bucket. Malformed content is
// logged and served as an empty collection. Any other error is a 500 and
// collection returns false.
func collection[T any](w http.ResponseWriter, ns, what string, items []T, err error) ([]T, bool) {
	switch {
	case errors.Is(err, store.ErrMalformed):
		slog.Warn("malformed "+what+", using an empty one", "namespace", ns, "error", err)
		return []T{}, true
	case err != nil:
		slog.Error("reading "+what, "namespace", ns, "error", err)
		jsonError(w, http.StatusInternalServerError, "failed to read "+what)
		return nil, false
	}
	if items == nil {
		items = []T{}
	}
	return items, true
}

// decodeJSON decodes a JSON request body into the given target.
func decodeJSON(r *http.Request, target any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(target)
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	v.RegisterValidation("unit", func(fl validator.FieldLevel) bool {
		return model.ValidUnit(fl.Field().String())
	})
	v.RegisterValidation("permission", func(fl validator.FieldLevel) bool {
		return model.Permission(fl.Field().String()).Valid()
	})
	return v
}

// decodeAndValidate decodes the body and checks its validate tags. On
// failure it writes a 400 response and returns false. requiredMsg replaces
// the message of a missing required field when set.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, target any, requiredMsg string) bool {
	if err := decodeJSON(r, target); err != nil {
		jsonError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	if err := validate.Struct(target); err != nil {
		jsonError(w, http.StatusBadRequest, validationMessage(err, requiredMsg))
		return false
	}
	return true
}

func validationMessage(err error, requiredMsg string) string {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) || len(errs) == 0 {
		return "invalid request"
	}
	for _, fe := range errs {
		if fe.Tag() == "required" && requiredMsg != "" {
			return requiredMsg
		}
	}

	fe := errs[0]
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "unit":
		return fmt.Sprintf("unit must be one of: %s", strings.Join(model.Units, ", "))
	case "datetime":
		return fmt.Sprintf("%s must be a date (YYYY-MM-DD)", fe.Field())
	case "gte":
		return fmt.Sprintf("%s must not be negative", fe.Field())
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid address", fe.Field())
	case "permission":
		return "permission must be default, granted or denied"
	default:
		return fmt.Sprintf("%s is invalid", fe.Field())
	}
}
