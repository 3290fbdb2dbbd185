package syncapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/BearBump/BoxSync/internal/apperr"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 4 << 20

type requestValidator struct {
	v *validator.Validate
}

func newValidator() *requestValidator {
	return &requestValidator{v: validator.New()}
}

func (rv *requestValidator) Validate(i any) error {
	if err := rv.v.Struct(i); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fieldError(fe))
			}
			return apperr.New(apperr.KindInvalidInput, "%s", strings.Join(msgs, "; "))
		}
		return apperr.Wrap(apperr.KindInvalidInput, err, "invalid request")
	}
	return nil
}

func fieldError(fe validator.FieldError) string {
	field := fe.Namespace()
	if i := strings.IndexByte(field, '.'); i >= 0 {
		field = field[i+1:]
	}
	field = lowerFirst(field)
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}

func lowerFirst(s string) string {
	if s == "" {
		return s
	}
	return strings.ToLower(s[:1]) + s[1:]
}

func (rv *requestValidator) decode(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, err, "read body")
	}
	if len(body) > maxBodyBytes {
		return apperr.New(apperr.KindInvalidInput, "request body too large")
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return apperr.New(apperr.KindInvalidInput, "malformed JSON body")
	}
	return rv.Validate(dst)
}
