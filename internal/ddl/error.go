package ddl

import "fmt"

// ParseError is raised when the CREATE TABLE parser encounters an
// unexpected token kind or keyword order. It is fatal for the table
// currently being parsed; the SQL importer returns it (wrapped) to its
// caller and does not resume reading at a later CREATE TABLE.
type ParseError struct {
	Pos     int64
	Message string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("ddl: %s (position %d)", e.Message, e.Pos)
}

func (p *Parser) parseErrorf(format string, args ...any) error {
	return &ParseError{Pos: p.tok.Pos(), Message: fmt.Sprintf(format, args...)}
}
