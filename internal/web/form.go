package web

import (
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/Fahad2240/Boipoka-Library-Mangement/internal/apperr"
)

// Input layouts for <input type="date"> and <input type="datetime-local">.
const (
	DateLayout     = "2006-01-02"
	DateTimeLayout = "2006-01-02T15:04"
)

// Decode fills the string, int and bool fields of the struct dst points to
// from the request form, keyed by each field's form tag. Values are trimmed
// except passwords. A checkbox counts as true when present with any value
// other than "false" or "0".
func Decode(r *http.Request, dst any) error {
	if err := r.ParseForm(); err != nil {
		return apperr.Wrap(apperr.KindValidation, "invalid form", err)
	}
	v := reflect.ValueOf(dst)
	if v.Kind() != reflect.Pointer || v.Elem().Kind() != reflect.Struct {
		return fmt.Errorf("decode form: want pointer to struct, got %T", dst)
	}
	v = v.Elem()
	t := v.Type()

	bad := map[string]string{}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		name := strings.SplitN(field.Tag.Get("form"), ",", 2)[0]
		if name == "" || name == "-" {
			continue
		}
		raw := r.Form.Get(name)
		if !strings.HasPrefix(name, "password") {
			raw = strings.TrimSpace(raw)
		}
		fv := v.Field(i)
		switch fv.Kind() {
		case reflect.String:
			fv.SetString(raw)
		case reflect.Int:
			if raw == "" {
				continue
			}
			n, err := strconv.Atoi(raw)
			if err != nil {
				bad[name] = "Enter a whole number."
				continue
			}
			fv.SetInt(int64(n))
		case reflect.Bool:
			fv.SetBool(raw != "" && raw != "false" && raw != "0")
		}
	}
	if len(bad) > 0 {
		return apperr.Invalid(bad)
	}
	return nil
}

// ParamID reads a UUID route parameter. A malformed id is a 404.
func ParamID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, apperr.NotFound("Page not found.")
	}
	return id, nil
}

// ParseDate accepts a date or datetime-local input in loc. A bare date is
// the start of that day.
func ParseDate(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range []string{DateTimeLayout, DateLayout, time.RFC3339} {
		if t, err := time.ParseInLocation(layout, raw, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", raw)
}
