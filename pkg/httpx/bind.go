package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/go-playground/validator"
)

// MaxBodyBytes caps JSON request bodies.
const MaxBodyBytes = 1 << 20

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
	})
	return validate
}

// BindError reports a request body that failed to decode or validate.
type BindError struct {
	Msg    string
	Fields map[string]string
}

func (e *BindError) Error() string { return e.Msg }

// DecodeJSON decodes the body into dst and runs struct validation tags.
func DecodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return &BindError{Msg: "request body is empty"}
		}
		return &BindError{Msg: fmt.Sprintf("invalid JSON body: %v", err)}
	}
	return Validate(dst)
}

// Validate runs go-playground validation tags on v.
func Validate(v any) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return &BindError{Msg: err.Error()}
	}

	fields := make(map[string]string, len(verrs))
	names := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		name := jsonName(fe.Field())
		fields[name] = fe.Tag()
		names = append(names, name)
	}
	return &BindError{
		Msg:    "invalid fields: " + strings.Join(names, ", "),
		Fields: fields,
	}
}

// jsonName turns a Go field name like FirstName into first_name.
func jsonName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if r >= 'A' && r <= 'Z' {
			if i > 0 {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}
