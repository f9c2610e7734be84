package common

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	validator "github.com/go-playground/validator/v10"
)

const maxBodyBytes = 1 << 20

// FieldError describes a single failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
}

// NewValidator returns a validator that reports JSON field names.
func NewValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// DecodeJSON decodes the request body into dst and validates it. On failure it
// writes a 400 response and returns false.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		JSONError(w, http.StatusBadRequest, CodeBadRequest, "invalid JSON body", err.Error())
		return false
	}
	if v == nil {
		return true
	}
	if err := v.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			details := make([]FieldError, 0, len(verrs))
			for _, fe := range verrs {
				details = append(details, FieldError{Field: fe.Field(), Rule: fe.Tag(), Param: fe.Param()})
			}
			JSONError(w, http.StatusBadRequest, CodeValidationFailed, "request validation failed", details)
			return false
		}
		JSONError(w, http.StatusBadRequest, CodeBadRequest, err.Error(), nil)
		return false
	}
	return true
}
