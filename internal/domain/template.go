package domain

import (
	"fmt"
	"strings"
	"time"
)

// Template is a stored message template. Name is unique per delivery
// method; a template with no method is a global email template.
type Template struct {
	ID        string
	Name      string
	Method    *DeliveryMethod
	Subject   *string
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (t *Template) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: template is required", ErrValidation)
	}
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("%w: template name is required", ErrValidation)
	}
	if strings.TrimSpace(t.Body) == "" {
		return fmt.Errorf("%w: template body is required", ErrValidation)
	}
	if t.Method != nil && !t.Method.IsValid() {
		return fmt.Errorf("%w: invalid delivery method %q", ErrValidation, *t.Method)
	}
	return nil
}
