// Package sqltoken implements a hand-rolled, incremental tokenizer for the
// subset of MySQL's SQL dialect that dump/load cares about: CREATE TABLE
// statements, INSERT VALUES lists, and the session-setup statements the
// dumpers and importers emit around them. It never builds a full AST and
// never attempts to parse expressions; it only classifies bytes into tokens.
package sqltoken

// Kind identifies the lexical class of a token returned by Tokenizer.Next.
type Kind int

const (
	EOF Kind = iota
	Comma
	Semicolon
	LeftParen
	RightParen
	Equals
	String
	Integer
	Double
	Null
	BinaryBlob
	Identifier
)

func (k Kind) String() string {
	switch k {
	case EOF:
		return "EOF"
	case Comma:
		return "Comma"
	case Semicolon:
		return "Semicolon"
	case LeftParen:
		return "LeftParen"
	case RightParen:
		return "RightParen"
	case Equals:
		return "Equals"
	case String:
		return "String"
	case Integer:
		return "Integer"
	case Double:
		return "Double"
	case Null:
		return "Null"
	case BinaryBlob:
		return "BinaryBlob"
	case Identifier:
		return "Identifier"
	default:
		return "Unknown"
	}
}
