package receipt

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()

	// Report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" {
			return f.Name
		}
		return name
	})

	// not empty and not only whitespace
	_ = v.RegisterValidation("notblank", func(fl validator.FieldLevel) bool {
		return strings.TrimSpace(fl.Field().String()) != ""
	})
	return v
}

type updateReceiptRequest struct {
	TaxAmount      *float64 `json:"tax_amount" validate:"omitempty,gte=0"`
	TipPercentage  *float64 `json:"tip_percentage" validate:"omitempty,gte=0"`
	RestaurantName *string  `json:"restaurant_name" validate:"omitempty,max=200"`
}

type draftRequest struct {
	Name  string `json:"name"`
	Price string `json:"price"`
}

// reviewRequest rows are not validated: blank or unparseable rows are dropped on commit
type reviewRequest struct {
	Drafts []draftRequest `json:"drafts" validate:"max=500"`
	Tax    string         `json:"tax"`
}

type addLineItemRequest struct {
	Name     string   `json:"name" validate:"required,notblank,max=200"`
	Price    *float64 `json:"price" validate:"required,gte=0"`
	PersonID string   `json:"person_id"`
}

type updateLineItemRequest struct {
	Name  *string  `json:"name" validate:"omitempty,notblank,max=200"`
	Price *float64 `json:"price" validate:"omitempty,gte=0"`
}

type assignRequest struct {
	// PersonID must be present; an empty string unassigns
	PersonID *string `json:"person_id" validate:"required"`
}

type createPersonRequest struct {
	Name string `json:"name" validate:"required,notblank,max=100"`
}

// decodeRequest reads a JSON body into v and validates it. Failures wrap ErrInvalidInput.
func decodeRequest(body io.Reader, v any) error {
	dec := json.NewDecoder(io.LimitReader(body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed JSON body", ErrInvalidInput)
	}
	return validateStruct(v)
}

func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, e := range verrs {
		msgs = append(msgs, fieldErrorToString(e))
	}
	return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(msgs, "; "))
}

func fieldErrorToString(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", e.Field())
	case "notblank":
		return fmt.Sprintf("%s must not be blank", e.Field())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", e.Field(), e.Param())
	case "max":
		return fmt.Sprintf("%s is too long", e.Field())
	default:
		return fmt.Sprintf("%s is invalid", e.Field())
	}
}
