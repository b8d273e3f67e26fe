// Package exterrors provides an SMTP-reply-code-aware error type used to
// carry enough context from storage/relay failures up to the session layer
// for logging, without forcing every internal error to know about the wire
// protocol.
package exterrors

import "fmt"

// EnhancedCode is the three-number RFC 3463 status code (class.subject.detail).
type EnhancedCode [3]int

// SMTPError is an error that additionally carries the SMTP reply code that
// should be used if it surfaces all the way to a client.
type SMTPError struct {
	Code         int
	EnhancedCode EnhancedCode
	Message      string
	Target       string
	Err          error
}

func (e *SMTPError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SMTPError) Unwrap() error { return e.Err }

// Fields implements log.FieldsProvider.
func (e *SMTPError) Fields() map[string]interface{} {
	f := map[string]interface{}{
		"smtp_code":     e.Code,
		"smtp_enchcode": fmt.Sprintf("%d.%d.%d", e.EnhancedCode[0], e.EnhancedCode[1], e.EnhancedCode[2]),
	}
	if e.Target != "" {
		f["target"] = e.Target
	}
	return f
}
