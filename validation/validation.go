// Package validation checks tool inputs before any downstream call is made.
//
// Request types declare their constraints with `validate` struct tags.
// Struct returns the first failing constraint as a validation ToolError
// whose field is the JSON name of the offending input.
package validation

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/effective-security/sops-mcp/toolerr"
	"github.com/go-playground/validator/v10"
)

// EmailPattern is the accepted shape of an email address:
// a local part, "@", and a domain containing a dot.
var EmailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

var (
	once     sync.Once
	validate *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			if name == "" {
				return f.Name
			}
			return name
		})
		_ = v.RegisterValidation("mailbox", isMailbox)
		_ = v.RegisterValidation("between", isBetween)
		validate = v
	})
	return validate
}

// IsEmail reports whether s has the accepted email shape.
func IsEmail(s string) bool {
	return EmailPattern.MatchString(s)
}

func isMailbox(fl validator.FieldLevel) bool {
	return IsEmail(fl.Field().String())
}

// isBetween checks an inclusive numeric range given as "min max".
func isBetween(fl validator.FieldLevel) bool {
	lo, hi, ok := parseRange(fl.Param())
	if !ok {
		return false
	}
	f := fl.Field()
	var v float64
	switch f.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		v = float64(f.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		v = float64(f.Uint())
	case reflect.Float32, reflect.Float64:
		v = f.Float()
	default:
		return false
	}
	return v >= lo && v <= hi
}

func parseRange(param string) (float64, float64, bool) {
	parts := strings.Fields(param)
	if len(parts) != 2 {
		return 0, 0, false
	}
	lo, err1 := strconv.ParseFloat(parts[0], 64)
	hi, err2 := strconv.ParseFloat(parts[1], 64)
	return lo, hi, err1 == nil && err2 == nil
}

// Struct validates v and returns nil, or a *toolerr.Error describing
// the first constraint that failed.
func Struct(v any) error {
	err := instance().Struct(v)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok || len(verrs) == 0 {
		return toolerr.Newf(toolerr.KindValidation, "invalid input: %s", err.Error())
	}
	return fromFieldError(verrs[0])
}

func fromFieldError(fe validator.FieldError) *toolerr.Error {
	field := fieldPath(fe)
	value := fe.Value()
	if rv := reflect.ValueOf(value); rv.Kind() == reflect.Ptr && !rv.IsNil() {
		value = rv.Elem().Interface()
	}

	var msg string
	switch fe.Tag() {
	case "required":
		msg = fmt.Sprintf("%s is required and cannot be empty", field)
	case "oneof":
		msg = fmt.Sprintf("invalid %s %q: must be one of: %s", field, fmt.Sprint(value), strings.Join(strings.Fields(fe.Param()), ", "))
	case "mailbox":
		msg = fmt.Sprintf("invalid email address in %s: %q", field, fmt.Sprint(value))
	case "between":
		lo, hi, _ := strings.Cut(fe.Param(), " ")
		msg = fmt.Sprintf("%s must be between %s and %s, got %v", field, lo, strings.TrimSpace(hi), value)
	case "url", "http_url":
		msg = fmt.Sprintf("invalid URL in %s: %q", field, fmt.Sprint(value))
	default:
		msg = fmt.Sprintf("%s failed %s check", field, fe.Tag())
	}
	return toolerr.Validation(field, msg)
}

// fieldPath returns the JSON path of the failing field without the root
// struct name. Element indexes of slices are dropped, so an invalid CC
// entry is reported against "cc".
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	if strings.HasSuffix(ns, "]") {
		if i := strings.LastIndex(ns, "["); i > 0 {
			ns = ns[:i]
		}
	}
	return ns
}

// TrimStrings trims surrounding whitespace from every string reachable
// from ptr: plain fields, pointers, slices and nested structs.
// Entries of string slices are trimmed in place and never removed.
func TrimStrings(ptr any) {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return
	}
	trimValue(rv.Elem())
}

func trimValue(v reflect.Value) {
	switch v.Kind() {
	case reflect.String:
		if v.CanSet() {
			v.SetString(strings.TrimSpace(v.String()))
		}
	case reflect.Ptr:
		if !v.IsNil() {
			trimValue(v.Elem())
		}
	case reflect.Struct:
		for i := 0; i < v.NumField(); i++ {
			if v.Type().Field(i).IsExported() {
				trimValue(v.Field(i))
			}
		}
	case reflect.Slice:
		if v.IsNil() {
			return
		}
		// entries are kept, so that a blank entry still fails its constraints
		for i := 0; i < v.Len(); i++ {
			trimValue(v.Index(i))
		}
	}
}
