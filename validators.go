package pingmill

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Validator vets the body of a 2xx response.
//
// Validator follows functional programming principles: it is a pure function
// where the same inputs always produce the same result, which makes
// validators easy to test and compose. A non-nil return classifies the
// firing as a bad response, which counts as a failure for backoff purposes.
//
// Validators run inside a panic recovery boundary; a panicking validator is
// reported as a validation failure with a correlation id instead of
// crashing the engine.
type Validator func(body []byte, statusCode int) error

// JSONFieldValidator returns a [Validator] that requires a JSON field,
// addressed with dot notation, to equal want (case-insensitively).
//
// For example, JSONFieldValidator("data.health.status", "ok") accepts
// {"data": {"health": {"status": "OK"}}}. Boolean and numeric values are
// compared through their string forms (true/false, decimal).
//
// Example:
//
//	p, err := pingmill.NewProbe("API", url,
//	    pingmill.WithValidator(pingmill.JSONFieldValidator("status", "healthy")),
//	)
func JSONFieldValidator(path, want string) Validator {
	parts := strings.Split(path, ".")

	return func(body []byte, statusCode int) error {
		var data interface{}
		if err := json.Unmarshal(body, &data); err != nil {
			return fmt.Errorf("response is not valid JSON: %w", err)
		}

		value, ok := jsonPathValue(data, parts)
		if !ok {
			return fmt.Errorf("JSON field %q not found", path)
		}
		if !strings.EqualFold(value, want) {
			return fmt.Errorf("JSON field %q is %q, want %q", path, value, want)
		}
		return nil
	}
}

// jsonPathValue walks a decoded JSON structure using dot notation parts and
// renders the leaf as a string.
func jsonPathValue(data interface{}, parts []string) (string, bool) {
	current := data

	for _, part := range parts {
		obj, ok := current.(map[string]interface{})
		if !ok {
			return "", false
		}
		current, ok = obj[part]
		if !ok {
			return "", false
		}
	}

	switch v := current.(type) {
	case string:
		return v, true
	case bool:
		if v {
			return "true", true
		}
		return "false", true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// ContainsValidator returns a [Validator] that requires the response body to
// contain the given substring.
//
// Example:
//
//	p, err := pingmill.NewProbe("Homepage", url,
//	    pingmill.WithValidator(pingmill.ContainsValidator("Welcome")),
//	)
func ContainsValidator(text string) Validator {
	needle := []byte(text)
	return func(body []byte, statusCode int) error {
		if !bytes.Contains(body, needle) {
			return fmt.Errorf("response body does not contain %q", text)
		}
		return nil
	}
}

// AllOf composes validators: the returned [Validator] passes only when every
// given validator passes, reporting the first failure.
func AllOf(validators ...Validator) Validator {
	return func(body []byte, statusCode int) error {
		for _, v := range validators {
			if v == nil {
				continue
			}
			if err := v(body, statusCode); err != nil {
				return err
			}
		}
		return nil
	}
}
