package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var requestValidator = newRequestValidator()

func newRequestValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// fieldMessages overrides the generic message for a field and tag.
var fieldMessages = map[string]string{
	"email.required":           "Email is required.",
	"email.email":              "Email is not valid.",
	"email.max":                "Email is not valid.",
	"code.required":            "Verification code is required.",
	"code.max":                 "Verification code is not valid.",
	"login.required":           "User name or email is required.",
	"userName.required":        "User name is required.",
	"password.required":        "Password is required.",
	"currentPassword.required": "Current password is required.",
	"newPassword.required":     "New password is required.",
	"userId.required":          "User id is required.",
}

// normalizer is implemented by requests that clean their fields before
// validation.
type normalizer interface {
	normalize()
}

type requestError struct {
	status  int
	code    string
	message string
	fields  []FieldError
}

func (e *requestError) Error() string {
	return e.message
}

func invalidJSON() *requestError {
	return &requestError{status: http.StatusBadRequest, code: ErrCodeInvalidRequest, message: "Invalid JSON body."}
}

func decodeAndValidate(body io.Reader, dst any) error {
	decoder := json.NewDecoder(body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			return &requestError{status: http.StatusRequestEntityTooLarge, code: ErrCodePayloadTooLarge, message: "Request body too large."}
		}
		return invalidJSON()
	}

	if err := decoder.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return invalidJSON()
	}

	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}

	return validateRequest(dst)
}

func validateRequest(dst any) error {
	err := requestValidator.Struct(dst)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return &requestError{status: http.StatusBadRequest, code: ErrCodeInvalidRequest, message: "Invalid request payload."}
	}

	fields := make([]FieldError, 0, len(validationErrors))
	for _, fe := range validationErrors {
		fields = append(fields, FieldError{Field: fe.Field(), Message: fieldMessage(fe)})
	}
	return &requestError{
		status:  http.StatusBadRequest,
		code:    ErrCodeValidationFailed,
		message: fields[0].Message,
		fields:  fields,
	}
}

func fieldMessage(fe validator.FieldError) string {
	if msg, ok := fieldMessages[fe.Field()+"."+fe.Tag()]; ok {
		return msg
	}
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required.", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters.", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s is not valid.", fe.Field())
	}
}

// writeRequestError renders an error from decodeAndValidate.
func writeRequestError(w http.ResponseWriter, err error) {
	var reqErr *requestError
	if !errors.As(err, &reqErr) {
		badRequest(w, err.Error())
		return
	}
	if reqErr.code == ErrCodeValidationFailed {
		writeValidationError(w, reqErr.message, reqErr.fields)
		return
	}
	writeError(w, reqErr.status, reqErr.code, reqErr.message)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
