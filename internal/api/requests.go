package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/ashureev/answerbook/internal/domain"
	"github.com/go-playground/validator/v10"
)

const maxBodyBytes = 64 << 10

type profileBody struct {
	Name       string `json:"name" validate:"required"`
	BirthDate  string `json:"birthDate" validate:"required"`
	BirthTime  string `json:"birthTime,omitempty"`
	Gender     string `json:"gender,omitempty" validate:"omitempty,oneof=M F"`
	BirthPlace string `json:"birthPlace" validate:"required"`
}

// answerBody is the /api/answer payload.
type answerBody struct {
	Profile  profileBody `json:"profile" validate:"required"`
	Question string      `json:"question" validate:"required,max=200"`
	Category string      `json:"category,omitempty" validate:"omitempty,category"`
}

type consultProfileBody struct {
	Name       string `json:"name,omitempty"`
	BirthDate  string `json:"birthDate" validate:"required"`
	BirthTime  string `json:"birthTime,omitempty"`
	Gender     string `json:"gender,omitempty" validate:"omitempty,oneof=M F"`
	BirthPlace string `json:"birthPlace,omitempty"`
}

// consultBody is the agent-style payload: the profile needs only a birth date.
type consultBody struct {
	Profile  consultProfileBody `json:"profile" validate:"required"`
	Question string             `json:"question" validate:"required,max=200"`
	Category string             `json:"category,omitempty" validate:"omitempty,category"`
}

type askBody struct {
	Question string `json:"question" validate:"required,max=200"`
}

type fortuneBody struct {
	Name      string `json:"name,omitempty" validate:"max=100"`
	BirthDate string `json:"birthDate,omitempty" validate:"max=40"`
}

func (b answerBody) profile() domain.Profile {
	return domain.Profile(b.Profile)
}

func (b consultBody) profile() domain.Profile {
	return domain.Profile(b.Profile)
}

func question(text, category string) domain.Question {
	c, _ := domain.ParseCategory(category)
	return domain.Question{Text: strings.TrimSpace(text), Category: c}
}

// ValidationError lists field-level problems with a request body.
type ValidationError struct {
	Details map[string]string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %d field errors", len(e.Details))
}

type requestValidator struct {
	v *validator.Validate
}

func newRequestValidator() *requestValidator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("category", func(fl validator.FieldLevel) bool {
		_, ok := domain.ParseCategory(fl.Field().String())
		return ok
	})
	return &requestValidator{v: v}
}

// decode reads and validates a JSON body into dst. An empty body decodes
// as an empty object.
func (rv *requestValidator) decode(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return &ValidationError{Details: map[string]string{"body": "must be a valid JSON object"}}
	}
	return rv.check(dst)
}

func (rv *requestValidator) check(v any) error {
	err := rv.v.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	details := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		details[fieldPath(fe.Namespace())] = fieldMessage(fe)
	}
	return &ValidationError{Details: details}
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "category":
		return "must be one of: " + categoryList()
	default:
		return "is invalid"
	}
}

func categoryList() string {
	names := make([]string, 0, len(domain.Categories()))
	for _, c := range domain.Categories() {
		names = append(names, c.String())
	}
	return strings.Join(names, ", ")
}

// writeRequestError reports a decode or validation failure.
func writeRequestError(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		JSON(w, http.StatusBadRequest, map[string]any{"error": "Invalid request", "details": verr.Details})
		return
	}
	Error(w, http.StatusBadRequest, "Invalid request")
}
