// Package tenant defines the identity every data-touching operation runs under.
// It is always passed as an explicit argument, never looked up from ambient state.
package tenant

import (
	"strings"

	finerr "github.com/dvloznov/finance-advisor/pkg/errors"
)

// ID identifies the user on whose behalf an operation executes.
type ID string

// Parse trims and validates a raw user id.
func Parse(raw string) (ID, error) {
	id := ID(strings.TrimSpace(raw))
	if err := id.Validate(); err != nil {
		return "", err
	}
	return id, nil
}

// Validate rejects empty ids and ids that could break out of a quoted SQL literal.
func (id ID) Validate() error {
	if id == "" {
		return finerr.New(finerr.CodeServerAuthUnauthorized, "missing tenant id")
	}
	if len(id) > 128 {
		return finerr.New(finerr.CodeServerAuthUnauthorized, "tenant id too long")
	}
	if strings.ContainsAny(string(id), "'\";\\\x00\n\r") {
		return finerr.New(finerr.CodeServerAuthUnauthorized, "tenant id contains forbidden characters",
			finerr.FieldUserID(string(id)))
	}
	return nil
}

func (id ID) String() string {
	return string(id)
}
