package jsontoken

import "fmt"

// JsonError is raised on an unterminated literal, an invalid escape, or an
// invalid structural character. It is fatal for the tokenizer instance.
type JsonError struct {
	Pos     int64
	Message string
}

func (e *JsonError) Error() string {
	return fmt.Sprintf("jsontoken: %s (position %d)", e.Message, e.Pos)
}

func (t *Tokenizer) errorf(format string, args ...any) error {
	return &JsonError{Pos: t.consumed + int64(t.pos), Message: fmt.Sprintf(format, args...)}
}
