package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var errInvalidBody = errors.New("invalid request body")

// decodeJSON decodes an optional JSON body into dst and validates it
func decodeJSON(r *http.Request, dst any) error {
	if r.Body != nil {
		err := json.NewDecoder(r.Body).Decode(dst)
		if err != nil && !errors.Is(err, io.EOF) {
			return errInvalidBody
		}
	}
	return validate.Struct(dst)
}

// intQuery reads an integer query parameter, def when absent, checked
// against the validator tag
func intQuery(r *http.Request, name string, def int, tag string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.New(name + " must be an integer")
	}
	if err := validate.Var(n, tag); err != nil {
		return 0, errors.New(name + " out of range")
	}
	return n, nil
}
