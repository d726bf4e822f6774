package ddl

import (
	"strconv"
	"strings"

	"mysqlchump/internal/sqltoken"
)

// Parser consumes a SQL token stream and builds a Table. Token values are
// ephemeral (see internal/sqltoken), so every field the parser needs to
// retain is copied out of the tokenizer the moment a token is read.
type Parser struct {
	tok *sqltoken.Tokenizer

	kind         sqltoken.Kind
	text         string
	intVal       int64
	dblVal       float64
	identEscaped bool
}

// ParseCreateTable parses a CREATE TABLE statement from tok. The CREATE
// TABLE keywords may already have been consumed upstream; the parser
// accepts either starting position.
func ParseCreateTable(tok *sqltoken.Tokenizer) (*Table, error) {
	p := &Parser{tok: tok}
	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.isKeyword("CREATE") {
		if err := p.advance(); err != nil {
			return nil, err
		}
		if !p.isKeyword("TABLE") {
			return nil, p.parseErrorf("expected TABLE after CREATE")
		}
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	for p.isKeyword("IF") || p.isKeyword("NOT") || p.isKeyword("EXISTS") {
		if err := p.advance(); err != nil {
			return nil, err
		}
	}

	if p.kind != sqltoken.Identifier {
		return nil, p.parseErrorf("expected table name, got %s", p.kind)
	}
	table := &Table{Name: p.text}
	if err := p.advance(); err != nil {
		return nil, err
	}

	if p.kind != sqltoken.LeftParen {
		return nil, p.parseErrorf("expected '(' after table name, got %s", p.kind)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	for p.kind != sqltoken.RightParen {
		if p.kind == sqltoken.EOF {
			return nil, p.parseErrorf("unexpected EOF inside table definition")
		}
		if p.kind == sqltoken.Identifier && !p.identEscaped && isConstraintKeyword(p.text) {
			if err := p.parseTableConstraint(table); err != nil {
				return nil, err
			}
		} else if err := p.parseColumnDefinition(table); err != nil {
			return nil, err
		}
		if p.kind == sqltoken.Comma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.kind != sqltoken.RightParen {
		return nil, p.parseErrorf("expected ',' or ')', got %s", p.kind)
	}
	if err := p.advance(); err != nil {
		return nil, err
	}

	if err := p.parseOptions(table); err != nil {
		return nil, err
	}
	return table, nil
}

func (p *Parser) advance() error {
	k, err := p.tok.Next()
	if err != nil {
		return err
	}
	p.kind = k
	switch k {
	case sqltoken.Identifier:
		p.text = string(p.tok.StringValue())
		p.identEscaped = p.tok.IdentifierWasEscaped()
	case sqltoken.String, sqltoken.BinaryBlob:
		p.text = string(p.tok.StringValue())
		if k == sqltoken.BinaryBlob {
			p.text = string(p.tok.BinaryHex())
		}
	case sqltoken.Integer:
		p.intVal = p.tok.IntegerValue()
	case sqltoken.Double:
		p.dblVal = p.tok.DoubleValue()
	}
	return nil
}

func (p *Parser) isKeyword(word string) bool {
	return p.kind == sqltoken.Identifier && !p.identEscaped && equalFold(p.text, word)
}

// --- column definitions ------------------------------------------------------

func (p *Parser) parseColumnDefinition(table *Table) error {
	if p.kind != sqltoken.Identifier {
		return p.parseErrorf("expected column name, got %s", p.kind)
	}
	col := Column{Name: p.text, Nullable: true}
	if err := p.advance(); err != nil {
		return err
	}

	typeText, err := p.parseTypeExpr()
	if err != nil {
		return err
	}
	col.Type = typeText

	for p.kind != sqltoken.Comma && p.kind != sqltoken.RightParen {
		switch {
		case p.isKeyword("NOT"):
			if err := p.advance(); err != nil {
				return err
			}
			if p.kind != sqltoken.Null {
				return p.parseErrorf("expected NULL after NOT")
			}
			col.Nullable = false
			if err := p.advance(); err != nil {
				return err
			}
		case p.kind == sqltoken.Null:
			col.Nullable = true
			if err := p.advance(); err != nil {
				return err
			}
		case p.isKeyword("DEFAULT"):
			if err := p.advance(); err != nil {
				return err
			}
			dv, err := p.parseDefaultValue()
			if err != nil {
				return err
			}
			col.Default = dv
		case p.isKeyword("AUTO_INCREMENT"):
			col.AutoIncrement = true
			if err := p.advance(); err != nil {
				return err
			}
		case p.isKeyword("UNSIGNED"):
			col.Unsigned = true
			if err := p.advance(); err != nil {
				return err
			}
		case p.isKeyword("PRIMARY"):
			if err := p.advance(); err != nil {
				return err
			}
			if !p.isKeyword("KEY") {
				return p.parseErrorf("expected KEY after PRIMARY")
			}
			col.PrimaryKey = true
			if err := p.advance(); err != nil {
				return err
			}
		case p.isKeyword("UNIQUE"):
			col.Extra = "UNIQUE"
			if err := p.advance(); err != nil {
				return err
			}
		case p.isKeyword("CHARACTER"):
			if err := p.advance(); err != nil {
				return err
			}
			if !p.isKeyword("SET") {
				return p.parseErrorf("expected SET after CHARACTER")
			}
			if err := p.advance(); err != nil {
				return err
			}
			val, err := p.parseIdentOrStringText()
			if err != nil {
				return err
			}
			col.Charset = val
		case p.isKeyword("COLLATE"):
			if err := p.advance(); err != nil {
				return err
			}
			val, err := p.parseIdentOrStringText()
			if err != nil {
				return err
			}
			col.Collation = val
		case p.kind == sqltoken.EOF:
			return p.parseErrorf("unexpected end of input in column definition")
		default:
			if err := p.skipUnknownColumnOption(); err != nil {
				return err
			}
		}
	}
	table.Columns = append(table.Columns, col)
	return nil
}

func (p *Parser) parseTypeExpr() (string, error) {
	if p.kind != sqltoken.Identifier {
		return "", p.parseErrorf("expected type name, got %s", p.kind)
	}
	var b strings.Builder
	b.WriteString(p.text)
	if err := p.advance(); err != nil {
		return "", err
	}
	if p.kind != sqltoken.LeftParen {
		return b.String(), nil
	}
	b.WriteByte('(')
	if err := p.advance(); err != nil {
		return "", err
	}
	for p.kind != sqltoken.RightParen {
		switch p.kind {
		case sqltoken.Comma:
			b.WriteByte(',')
		case sqltoken.String:
			b.WriteByte('\'')
			b.WriteString(escapeSQLString(p.text))
			b.WriteByte('\'')
		case sqltoken.Integer:
			b.WriteString(strconv.FormatInt(p.intVal, 10))
		case sqltoken.Double:
			b.WriteString(strconv.FormatFloat(p.dblVal, 'g', -1, 64))
		case sqltoken.Identifier:
			b.WriteString(p.text)
		case sqltoken.EOF:
			return "", p.parseErrorf("unexpected EOF in type parameter list")
		default:
			return "", p.parseErrorf("unexpected token %s in type parameter list", p.kind)
		}
		if err := p.advance(); err != nil {
			return "", err
		}
	}
	b.WriteByte(')')
	if err := p.advance(); err != nil {
		return "", err
	}
	return b.String(), nil
}

func (p *Parser) parseDefaultValue() (*DefaultValue, error) {
	switch p.kind {
	case sqltoken.String:
		v := &DefaultValue{Kind: DefaultString, Text: p.text}
		return v, p.advance()
	case sqltoken.Integer:
		v := &DefaultValue{Kind: DefaultNumber, Text: strconv.FormatInt(p.intVal, 10)}
		return v, p.advance()
	case sqltoken.Double:
		v := &DefaultValue{Kind: DefaultNumber, Text: strconv.FormatFloat(p.dblVal, 'g', -1, 64)}
		return v, p.advance()
	case sqltoken.Null:
		v := &DefaultValue{Kind: DefaultNull}
		return v, p.advance()
	case sqltoken.Identifier:
		text := p.text
		if err := p.advance(); err != nil {
			return nil, err
		}
		return &DefaultValue{Kind: DefaultExpr, Text: text}, nil
	case sqltoken.LeftParen:
		text, err := p.captureParenExprText()
		if err != nil {
			return nil, err
		}
		return &DefaultValue{Kind: DefaultExpr, Text: text}, nil
	default:
		return nil, p.parseErrorf("unexpected token %s in DEFAULT value", p.kind)
	}
}

func (p *Parser) captureParenExprText() (string, error) {
	var b strings.Builder
	depth := 0
	for {
		switch p.kind {
		case sqltoken.LeftParen:
			depth++
			b.WriteByte('(')
		case sqltoken.RightParen:
			depth--
			b.WriteByte(')')
		case sqltoken.Comma:
			b.WriteByte(',')
		case sqltoken.String:
			b.WriteByte('\'')
			b.WriteString(escapeSQLString(p.text))
			b.WriteByte('\'')
		case sqltoken.Integer:
			b.WriteString(strconv.FormatInt(p.intVal, 10))
		case sqltoken.Double:
			b.WriteString(strconv.FormatFloat(p.dblVal, 'g', -1, 64))
		case sqltoken.Identifier:
			b.WriteString(p.text)
		case sqltoken.EOF:
			return "", p.parseErrorf("unexpected EOF in parenthesized expression")
		default:
			return "", p.parseErrorf("unexpected token %s in parenthesized expression", p.kind)
		}
		if err := p.advance(); err != nil {
			return "", err
		}
		if depth == 0 {
			return b.String(), nil
		}
	}
}

func (p *Parser) parseIdentOrStringText() (string, error) {
	switch p.kind {
	case sqltoken.Identifier, sqltoken.String:
		v := p.text
		return v, p.advance()
	default:
		return "", p.parseErrorf("expected identifier or string, got %s", p.kind)
	}
}

func (p *Parser) skipUnknownColumnOption() error {
	if p.kind == sqltoken.LeftParen {
		return p.skipBalancedParens()
	}
	return p.advance()
}

func (p *Parser) skipBalancedParens() error {
	depth := 0
	for {
		switch p.kind {
		case sqltoken.LeftParen:
			depth++
		case sqltoken.RightParen:
			depth--
		case sqltoken.EOF:
			return p.parseErrorf("unexpected EOF while skipping parenthesized expression")
		}
		if err := p.advance(); err != nil {
			return err
		}
		if depth == 0 {
			return nil
		}
	}
}

// --- table constraints --------------------------------------------------------

func (p *Parser) parseTableConstraint(table *Table) error {
	switch {
	case p.isKeyword("PRIMARY"):
		if err := p.advance(); err != nil {
			return err
		}
		if !p.isKeyword("KEY") {
			return p.parseErrorf("expected KEY after PRIMARY")
		}
		if err := p.advance(); err != nil {
			return err
		}
		cols, err := p.parseColumnList()
		if err != nil {
			return err
		}
		if err := p.skipOptionalUsing(); err != nil {
			return err
		}
		table.Indexes = append(table.Indexes, Index{Kind: IndexPrimary, Columns: cols})
		return nil
	case p.isKeyword("UNIQUE"):
		if err := p.advance(); err != nil {
			return err
		}
		return p.parseNamedIndex(table, IndexUnique)
	case p.isKeyword("FULLTEXT"):
		if err := p.advance(); err != nil {
			return err
		}
		return p.parseNamedIndex(table, IndexFulltext)
	case p.isKeyword("KEY") || p.isKeyword("INDEX"):
		if err := p.advance(); err != nil {
			return err
		}
		return p.parseNamedIndex(table, IndexRegular)
	case p.isKeyword("CONSTRAINT"):
		if err := p.advance(); err != nil {
			return err
		}
		name := ""
		if p.kind == sqltoken.Identifier && !p.isKeyword("FOREIGN") {
			name = p.text
			if err := p.advance(); err != nil {
				return err
			}
		}
		if !p.isKeyword("FOREIGN") {
			return p.parseErrorf("expected FOREIGN KEY after CONSTRAINT")
		}
		return p.parseForeignKey(table, name)
	case p.isKeyword("FOREIGN"):
		return p.parseForeignKey(table, "")
	default:
		return p.parseErrorf("unknown table constraint keyword %q", p.text)
	}
}

func (p *Parser) parseNamedIndex(table *Table, kind IndexKind) error {
	if p.isKeyword("KEY") || p.isKeyword("INDEX") {
		if err := p.advance(); err != nil {
			return err
		}
	}
	name := ""
	if p.kind == sqltoken.Identifier {
		name = p.text
		if err := p.advance(); err != nil {
			return err
		}
	}
	cols, err := p.parseColumnList()
	if err != nil {
		return err
	}
	if err := p.skipOptionalUsing(); err != nil {
		return err
	}
	table.Indexes = append(table.Indexes, Index{Name: name, Kind: kind, Columns: cols})
	return nil
}

func (p *Parser) parseForeignKey(table *Table, name string) error {
	if err := p.advance(); err != nil { // consume "FOREIGN"
		return err
	}
	if !p.isKeyword("KEY") {
		return p.parseErrorf("expected KEY after FOREIGN")
	}
	if err := p.advance(); err != nil {
		return err
	}
	cols, err := p.parseColumnList()
	if err != nil {
		return err
	}
	if !p.isKeyword("REFERENCES") {
		return p.parseErrorf("expected REFERENCES in foreign key definition")
	}
	if err := p.advance(); err != nil {
		return err
	}
	if p.kind != sqltoken.Identifier {
		return p.parseErrorf("expected reference table name")
	}
	refTable := p.text
	if err := p.advance(); err != nil {
		return err
	}
	refCols, err := p.parseColumnList()
	if err != nil {
		return err
	}

	fk := ForeignKey{Name: name, Columns: columnNames(cols), RefTable: refTable, RefColumns: columnNames(refCols)}
	for p.isKeyword("ON") {
		if err := p.advance(); err != nil {
			return err
		}
		var slot *NullAction
		switch {
		case p.isKeyword("DELETE"):
			slot = &fk.OnDelete
		case p.isKeyword("UPDATE"):
			slot = &fk.OnUpdate
		default:
			return p.parseErrorf("expected DELETE or UPDATE after ON")
		}
		if err := p.advance(); err != nil {
			return err
		}
		action, err := p.parseReferentialAction()
		if err != nil {
			return err
		}
		*slot = action
	}
	if err := p.skipOptionalUsing(); err != nil {
		return err
	}
	table.ForeignKeys = append(table.ForeignKeys, fk)
	return nil
}

func (p *Parser) parseReferentialAction() (NullAction, error) {
	switch {
	case p.isKeyword("CASCADE"):
		return ActionCascade, p.advance()
	case p.isKeyword("RESTRICT"):
		return ActionRestrict, p.advance()
	case p.isKeyword("SET"):
		if err := p.advance(); err != nil {
			return "", err
		}
		if p.kind != sqltoken.Null {
			return "", p.parseErrorf("expected NULL after SET")
		}
		return ActionSetNull, p.advance()
	case p.isKeyword("NO"):
		if err := p.advance(); err != nil {
			return "", err
		}
		if !p.isKeyword("ACTION") {
			return "", p.parseErrorf("expected ACTION after NO")
		}
		return ActionNoAction, p.advance()
	default:
		return "", p.parseErrorf("unknown referential action %q", p.text)
	}
}

func (p *Parser) parseColumnList() ([]IndexColumn, error) {
	if p.kind != sqltoken.LeftParen {
		return nil, p.parseErrorf("expected '(' to start column list")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	var cols []IndexColumn
	for {
		if p.kind != sqltoken.Identifier {
			return nil, p.parseErrorf("expected column name in column list")
		}
		ic := IndexColumn{Name: p.text}
		if err := p.advance(); err != nil {
			return nil, err
		}
		if p.kind == sqltoken.LeftParen {
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.kind != sqltoken.Integer {
				return nil, p.parseErrorf("expected integer prefix length")
			}
			ic.PrefixLength = int(p.intVal)
			if err := p.advance(); err != nil {
				return nil, err
			}
			if p.kind != sqltoken.RightParen {
				return nil, p.parseErrorf("expected ')' after prefix length")
			}
			if err := p.advance(); err != nil {
				return nil, err
			}
		}
		cols = append(cols, ic)
		if p.kind == sqltoken.Comma {
			if err := p.advance(); err != nil {
				return nil, err
			}
			continue
		}
		break
	}
	if p.kind != sqltoken.RightParen {
		return nil, p.parseErrorf("expected ')' to end column list")
	}
	if err := p.advance(); err != nil {
		return nil, err
	}
	return cols, nil
}

func (p *Parser) skipOptionalUsing() error {
	if !p.isKeyword("USING") {
		return nil
	}
	if err := p.advance(); err != nil {
		return err
	}
	if p.kind != sqltoken.Identifier {
		return p.parseErrorf("expected identifier after USING")
	}
	return p.advance()
}

// --- table options -------------------------------------------------------------

func (p *Parser) parseOptions(table *Table) error {
	for {
		if p.kind == sqltoken.Semicolon || p.kind == sqltoken.EOF {
			return nil
		}
		if p.kind != sqltoken.Identifier {
			return p.parseErrorf("expected option name or ';', got %s", p.kind)
		}
		var keyParts []string
		for p.kind == sqltoken.Identifier {
			keyParts = append(keyParts, p.text)
			if err := p.advance(); err != nil {
				return err
			}
			if p.kind == sqltoken.Equals {
				break
			}
		}
		if p.kind != sqltoken.Equals {
			return p.parseErrorf("expected '=' after option name")
		}
		if err := p.advance(); err != nil {
			return err
		}
		var val string
		var kind OptionValueKind
		switch p.kind {
		case sqltoken.Identifier:
			val, kind = p.text, OptIdent
		case sqltoken.String:
			val, kind = p.text, OptString
		case sqltoken.Integer:
			val, kind = strconv.FormatInt(p.intVal, 10), OptNumber
		case sqltoken.Double:
			val, kind = strconv.FormatFloat(p.dblVal, 'g', -1, 64), OptNumber
		default:
			return p.parseErrorf("unexpected option value token %s", p.kind)
		}
		if err := p.advance(); err != nil {
			return err
		}
		table.Options = append(table.Options, Option{Key: strings.Join(keyParts, " "), Value: val, ValueKind: kind})
	}
}

func columnNames(cols []IndexColumn) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func isConstraintKeyword(s string) bool {
	switch {
	case equalFold(s, "PRIMARY"), equalFold(s, "UNIQUE"), equalFold(s, "KEY"),
		equalFold(s, "INDEX"), equalFold(s, "CONSTRAINT"), equalFold(s, "FOREIGN"),
		equalFold(s, "FULLTEXT"):
		return true
	default:
		return false
	}
}
