package regform

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/kirinyoku/joynous/internal/domain"
)

const (
	MinAge = 10
	MaxAge = 50
)

var (
	phonePattern = regexp.MustCompile(`^[6-9]\d{9}$`)
	emailPattern = regexp.MustCompile(`^\S+@\S+\.\S+$`)
)

// Details are the attendee fields collected before pricing.
type Details struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,basic_email"`
	Phone           string `json:"phone" validate:"required,in_mobile"`
	Age             int    `json:"age" validate:"min=10,max=50"`
	HearAbout       string `json:"hear_about" validate:"required,oneof=Instagram Facebook Other"`
	OtherSource     string `json:"other_source" validate:"required_if=HearAbout Other"`
	InstagramPhotos string `json:"instagram_photos" validate:"required,oneof=yes no"`
	IDProof         bool   `json:"id_proof" validate:"required"`
	TermsAccepted   bool   `json:"terms_accepted" validate:"required"`
}

func (d Details) normalized() Details {
	d.Name = strings.TrimSpace(d.Name)
	d.Email = strings.TrimSpace(d.Email)
	d.Phone = strings.TrimSpace(d.Phone)
	d.OtherSource = strings.TrimSpace(d.OtherSource)
	if d.HearAbout != string(domain.HearOther) {
		d.OtherSource = ""
	}
	return d
}

func (d Details) Contact() domain.Contact {
	return domain.Contact{
		Name:            d.Name,
		Email:           d.Email,
		Phone:           d.Phone,
		Age:             d.Age,
		HearAbout:       domain.HearAbout(d.HearAbout),
		OtherSource:     d.OtherSource,
		InstagramPhotos: d.InstagramPhotos,
		IDProof:         d.IDProof,
		TermsAccepted:   d.TermsAccepted,
	}
}

func DetailsFromContact(c domain.Contact) Details {
	return Details{
		Name:            c.Name,
		Email:           c.Email,
		Phone:           c.Phone,
		Age:             c.Age,
		HearAbout:       string(c.HearAbout),
		OtherSource:     c.OtherSource,
		InstagramPhotos: c.InstagramPhotos,
		IDProof:         c.IDProof,
		TermsAccepted:   c.TermsAccepted,
	}
}

// Form is everything the attendee fills in for one order.
type Form struct {
	Details        Details  `json:"details"`
	TicketQuantity int      `json:"ticket_quantity"`
	TicketNames    []string `json:"ticket_names"`
}

// ValidationError maps form fields to human-readable messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}

	return "validation failed: " + strings.Join(parts, "; ")
}

func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("in_mobile", func(fl validator.FieldLevel) bool {
		return phonePattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("basic_email", func(fl validator.FieldLevel) bool {
		return emailPattern.MatchString(fl.Field().String())
	})

	return v
}

// Validate checks the form against the seats that are still available.
func Validate(f Form, remaining int) error {
	fields := map[string]string{}

	if err := validate.Struct(f.Details.normalized()); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		for _, fe := range verrs {
			fields[fe.Field()] = message(fe)
		}
	}

	switch {
	case f.TicketQuantity < 1:
		fields["ticket_quantity"] = "At least one ticket is required"
	case f.TicketQuantity > remaining:
		if remaining <= 0 {
			fields["ticket_quantity"] = "No seats available"
		} else {
			fields["ticket_quantity"] = fmt.Sprintf("Only %d seats left", remaining)
		}
	}

	if len(f.TicketNames) != f.TicketQuantity {
		fields["ticket_names"] = "A name is required for every ticket"
	} else {
		for i, n := range f.TicketNames {
			if strings.TrimSpace(n) == "" {
				fields[fmt.Sprintf("ticket_names[%d]", i)] = "Ticket holder name is required"
			}
		}
	}

	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}

	return nil
}

func message(fe validator.FieldError) string {
	switch fe.Field() {
	case "id_proof":
		return "Please confirm you will carry a valid ID proof"
	case "terms_accepted":
		return "You must accept the terms and conditions"
	case "age":
		if fe.Tag() == "max" {
			return fmt.Sprintf("Maximum age %d", MaxAge)
		}
		return fmt.Sprintf("Minimum age %d", MinAge)
	}

	switch fe.Tag() {
	case "required":
		return "This field is required"
	case "required_if":
		return "Please tell us where you heard about us"
	case "in_mobile":
		return "Enter a valid 10-digit mobile number"
	case "basic_email":
		return "Enter a valid email address"
	case "oneof":
		return "Must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	default:
		return "Invalid value"
	}
}
