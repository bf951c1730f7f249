// Package gate screens inbound requests before they reach the engine.
// Bodies decode into typed structs with unknown fields rejected, string
// fields pass through an HTML sanitizer, and field constraints are
// enforced declaratively. Nothing downstream sees raw user input.
package gate

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/fundlift/identity"
	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

const maxBodyBytes = 1 << 20

// Gate validates and sanitizes request payloads.
type Gate struct {
	validate *validator.Validate
	policy   *bluemonday.Policy
}

func New() *Gate {
	return &Gate{
		validate: newValidator(),
		policy:   newPolicy(),
	}
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// Report json field names instead of Go identifiers.
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// newPolicy allows the small markup subset campaign descriptions may
// carry: links, line breaks, and styled spans and divs. Everything
// else is stripped, and hrefs must be http or https.
func newPolicy() *bluemonday.Policy {
	p := bluemonday.NewPolicy()
	p.AllowAttrs("href", "title", "target").OnElements("a")
	p.AllowElements("br")
	p.AllowAttrs("class").OnElements("span", "div")
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	return p
}

// Sanitize strips disallowed markup from a single value.
func (g *Gate) Sanitize(value string) string {
	return g.policy.Sanitize(value)
}

// Decode reads a JSON body into dst, rejects unknown fields, sanitizes
// string fields, and validates. dst must be a pointer to a struct.
// Fields tagged `sanitize:"-"` (passwords, tokens) are left untouched.
func (g *Gate) Decode(r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &identity.ValidationError{Fields: map[string]string{
			"body": decodeMessage(err),
		}}
	}
	// Trailing garbage after the JSON document.
	if dec.More() {
		return &identity.ValidationError{Fields: map[string]string{
			"body": "unexpected data after JSON body",
		}}
	}

	g.sanitizeStruct(reflect.ValueOf(dst).Elem())
	return g.Check(dst)
}

// DecodeLenient reads a JSON body into dst without the schema screen:
// unknown fields are ignored, strings are not sanitized, and no field
// constraints run. Exempt routes (sign-in, provider webhooks) use it
// because their payloads are intentionally permissive or shaped by an
// external provider. The body size limit still applies.
func (g *Gate) DecodeLenient(r *http.Request, dst any) error {
	defer func() { _, _ = io.Copy(io.Discard, r.Body) }()

	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		return &identity.ValidationError{Fields: map[string]string{
			"body": decodeMessage(err),
		}}
	}
	return nil
}

// Check validates an already-populated struct.
func (g *Gate) Check(dst any) error {
	err := g.validate.Struct(dst)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return err
	}

	fields := make(map[string]string)
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "" {
				continue
			}
			fields[fe.Field()] = constraintMessage(fe)
		}
	}
	return &identity.ValidationError{Fields: fields}
}

func (g *Gate) sanitizeStruct(v reflect.Value) {
	t := v.Type()
	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}
		if t.Field(i).Tag.Get("sanitize") == "-" {
			continue
		}
		switch field.Kind() {
		case reflect.String:
			field.SetString(g.policy.Sanitize(field.String()))
		case reflect.Struct:
			g.sanitizeStruct(field)
		}
	}
}

func decodeMessage(err error) string {
	var unmarshalErr *json.UnmarshalTypeError
	if errors.As(err, &unmarshalErr) && unmarshalErr.Field != "" {
		return "invalid type for field " + unmarshalErr.Field
	}
	if errors.Is(err, io.EOF) {
		return "empty body"
	}
	msg := err.Error()
	if strings.Contains(msg, "unknown field") {
		return msg
	}
	return "malformed JSON body"
}

func constraintMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "len":
		return "must be exactly " + fe.Param() + " characters"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "alphanum":
		return "must contain only letters and digits"
	case "numeric":
		return "must contain only digits"
	case "eqfield":
		return "must match " + strings.ToLower(fe.Param())
	default:
		return "is invalid"
	}
}
