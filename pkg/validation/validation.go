// Package validation wraps go-playground/validator with the field naming and
// messages used by the API's 422 envelope. A *Validator also satisfies
// echo.Validator.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// Errors maps dotted field paths such as "services.0.quantity" to messages.
type Errors struct {
	Fields map[string][]string
}

func (e *Errors) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string][]string)
	}
	e.Fields[field] = append(e.Fields[field], msg)
}

func (e *Errors) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+strings.Join(e.Fields[k], "; "))
	}
	return "validation failed: " + strings.Join(parts, ", ")
}

// Err returns nil when no field failed.
func (e *Errors) Err() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Field is shorthand for a single-field failure.
func Field(field, msg string) error {
	v := &Errors{}
	v.Add(field, msg)
	return v
}

type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New()

	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	// Money fields are compared as numbers so gte/lte work on them.
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			return d.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{})

	return &Validator{v: v}
}

// RegisterStructRule adds a cross-field rule for the type of sample.
// Failures are reported with validator.StructLevel.ReportError.
func (cv *Validator) RegisterStructRule(fn validator.StructLevelFunc, sample any) {
	cv.v.RegisterStructValidation(fn, sample)
}

// Validate checks i and returns *Errors for field failures.
func (cv *Validator) Validate(i any) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) {
		return err
	}
	out := &Errors{}
	for _, fe := range ve {
		out.Add(fieldPath(fe.Namespace()), message(fe))
	}
	return out
}

// fieldPath turns "ClaimRequest.services[0].quantity" into "services.0.quantity".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		ns = ns[i+1:]
	}
	ns = strings.ReplaceAll(ns, "[", ".")
	return strings.ReplaceAll(ns, "]", "")
}

var bytesType = reflect.TypeOf([]byte(nil))

func label(fe validator.FieldError) string {
	return strings.ReplaceAll(fe.Field(), "_", " ")
}

func message(fe validator.FieldError) string {
	name := label(fe)
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("The %s field is required.", name)
	case "oneof":
		return fmt.Sprintf("The selected %s is invalid.", name)
	case "datetime":
		if fe.Param() == "2006-01-02" {
			return fmt.Sprintf("The %s must be a date in YYYY-MM-DD format.", name)
		}
		return fmt.Sprintf("The %s does not match the format %s.", name, fe.Param())
	case "min", "gte":
		if fe.Type() == bytesType {
			return fmt.Sprintf("The %s must not be empty.", name)
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("The %s must have at least %s item(s).", name, fe.Param())
		}
		return fmt.Sprintf("The %s must be at least %s.", name, fe.Param())
	case "max", "lte":
		if fe.Type() == bytesType {
			if n, err := strconv.Atoi(fe.Param()); err == nil {
				return fmt.Sprintf("The %s may not be greater than %d kilobytes.", name, n>>10)
			}
		}
		if fe.Kind() == reflect.Slice {
			return fmt.Sprintf("The %s may not have more than %s items.", name, fe.Param())
		}
		return fmt.Sprintf("The %s may not be greater than %s.", name, fe.Param())
	case "mimes":
		return fmt.Sprintf("The %s must be a file of type: %s.", name, fe.Param())
	default:
		return fmt.Sprintf("The %s is invalid.", name)
	}
}
