package stratumql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shivang/stratumdb/types"
)

// Parser is a recursive-descent parser over a two-token lookahead,
// mirroring DaemonDB/query_parser/parser/parser.go's cur/peek shape.
type Parser struct {
	l         *Lexer
	curToken  Token
	peekToken Token
}

// NewParser returns a Parser positioned at l's first two tokens.
func NewParser(l *Lexer) *Parser {
	p := &Parser{l: l}
	p.next()
	p.next()
	return p
}

func (p *Parser) next() {
	p.curToken = p.peekToken
	p.peekToken = p.l.NextToken()
}

func (p *Parser) expect(kind TokenKind) error {
	if p.curToken.Kind != kind {
		return fmt.Errorf("stratumql: unexpected %q", p.curToken.Lit)
	}
	p.next()
	return nil
}

func (p *Parser) ident() (string, error) {
	if p.curToken.Kind != TokIdent {
		return "", fmt.Errorf("stratumql: expected identifier, got %q", p.curToken.Lit)
	}
	s := p.curToken.Lit
	p.next()
	return s, nil
}

// Parse parses a single statement, consuming a trailing semicolon if
// present. Any token left after that is an error.
func Parse(input string) (Statement, error) {
	p := NewParser(NewLexer(input))
	stmt, err := p.parseStatement()
	if err != nil {
		return nil, err
	}
	if p.curToken.Kind == TokSemicolon {
		p.next()
	}
	if p.curToken.Kind != TokEOF {
		return nil, fmt.Errorf("stratumql: unexpected %q after statement", p.curToken.Lit)
	}
	return stmt, nil
}

func (p *Parser) parseStatement() (Statement, error) {
	switch p.curToken.Kind {
	case TokCreate:
		return p.parseCreate()
	case TokDrop:
		return p.parseDrop()
	case TokShow:
		return p.parseShow()
	case TokDesc:
		p.next()
		table, err := p.ident()
		if err != nil {
			return nil, err
		}
		return DescStmt{Table: table}, nil
	case TokInsert:
		return p.parseInsert()
	case TokDelete:
		return p.parseDelete()
	case TokUpdate:
		return p.parseUpdate()
	case TokSelect:
		return p.parseSelect()
	case TokBegin:
		p.next()
		return BeginStmt{}, nil
	case TokCommit:
		p.next()
		return CommitStmt{}, nil
	case TokAbort, TokRollback:
		p.next()
		return AbortStmt{}, nil
	case TokHelp:
		p.next()
		return HelpStmt{}, nil
	case TokExit:
		p.next()
		return ExitStmt{}, nil
	}
	return nil, fmt.Errorf("stratumql: unexpected token %q", p.curToken.Lit)
}

// --- CREATE TABLE / CREATE [UNIQUE] INDEX ---

func (p *Parser) parseCreate() (Statement, error) {
	p.next() // consume CREATE
	switch p.curToken.Kind {
	case TokTable:
		p.next()
		return p.parseCreateTableBody()
	case TokUnique:
		p.next()
		if err := p.expect(TokIndex); err != nil {
			return nil, err
		}
		return p.parseCreateIndexBody(true)
	case TokIndex:
		p.next()
		return p.parseCreateIndexBody(false)
	}
	return nil, fmt.Errorf("stratumql: expected TABLE or INDEX after CREATE, got %q", p.curToken.Lit)
}

func (p *Parser) parseCreateTableBody() (Statement, error) {
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokLParen); err != nil {
		return nil, err
	}
	var cols []ColumnDef
	for {
		name, err := p.ident()
		if err != nil {
			return nil, err
		}
		typeName, err := p.ident()
		if err != nil {
			return nil, err
		}
		cd := ColumnDef{Name: name, TypeName: strings.ToUpper(typeName)}
		if p.curToken.Kind == TokLParen {
			p.next()
			if p.curToken.Kind != TokInt {
				return nil, fmt.Errorf("stratumql: expected integer length, got %q", p.curToken.Lit)
			}
			n, err := strconv.Atoi(p.curToken.Lit)
			if err != nil {
				return nil, err
			}
			cd.Length = n
			p.next()
			if err := p.expect(TokRParen); err != nil {
				return nil, err
			}
		}
		if p.curToken.Kind == TokPrimary {
			p.next()
			if err := p.expect(TokKey); err != nil {
				return nil, err
			}
			cd.IsPrimaryKey = true
		}
		cols = append(cols, cd)
		if p.curToken.Kind == TokComma {
			p.next()
			continue
		}
		break
	}
	if err := p.expect(TokRParen); err != nil {
		return nil, err
	}
	return CreateTableStmt{Table: table, Columns: cols}, nil
}

func (p *Parser) parseColumnList() (string, []string, error) {
	table, err := p.ident()
	if err != nil {
		return "", nil, err
	}
	if err := p.expect(TokLParen); err != nil {
		return "", nil, err
	}
	var cols []string
	for {
		col, err := p.ident()
		if err != nil {
			return "", nil, err
		}
		cols = append(cols, col)
		if p.curToken.Kind == TokComma {
			p.next()
			continue
		}
		break
	}
	if err := p.expect(TokRParen); err != nil {
		return "", nil, err
	}
	return table, cols, nil
}

func (p *Parser) parseCreateIndexBody(unique bool) (Statement, error) {
	table, cols, err := p.parseColumnList()
	if err != nil {
		return nil, err
	}
	return CreateIndexStmt{Table: table, Columns: cols, Unique: unique}, nil
}

// --- DROP TABLE / DROP INDEX ---

func (p *Parser) parseDrop() (Statement, error) {
	p.next() // consume DROP
	switch p.curToken.Kind {
	case TokTable:
		p.next()
		table, err := p.ident()
		if err != nil {
			return nil, err
		}
		return DropTableStmt{Table: table}, nil
	case TokIndex:
		p.next()
		table, cols, err := p.parseColumnList()
		if err != nil {
			return nil, err
		}
		return DropIndexStmt{Table: table, Columns: cols}, nil
	}
	return nil, fmt.Errorf("stratumql: expected TABLE or INDEX after DROP, got %q", p.curToken.Lit)
}

// --- SHOW TABLES / SHOW INDEX FROM t ---

func (p *Parser) parseShow() (Statement, error) {
	p.next() // consume SHOW
	switch p.curToken.Kind {
	case TokTables:
		p.next()
		return ShowTablesStmt{}, nil
	case TokIndex:
		p.next()
		if err := p.expect(TokFrom); err != nil {
			return nil, err
		}
		table, err := p.ident()
		if err != nil {
			return nil, err
		}
		return ShowIndexStmt{Table: table}, nil
	}
	return nil, fmt.Errorf("stratumql: expected TABLES or INDEX after SHOW, got %q", p.curToken.Lit)
}

// --- INSERT INTO t VALUES (...), (...) ---

func (p *Parser) parseInsert() (Statement, error) {
	p.next() // consume INSERT
	if err := p.expect(TokInto); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokValues); err != nil {
		return nil, err
	}
	var rows [][]types.Value
	for {
		if err := p.expect(TokLParen); err != nil {
			return nil, err
		}
		var vals []types.Value
		for {
			v, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			vals = append(vals, v)
			if p.curToken.Kind == TokComma {
				p.next()
				continue
			}
			break
		}
		if err := p.expect(TokRParen); err != nil {
			return nil, err
		}
		rows = append(rows, vals)
		if p.curToken.Kind == TokComma {
			p.next()
			continue
		}
		break
	}
	return InsertStmt{Table: table, Rows: rows}, nil
}

// parseLiteral reads one INT/FLOAT/STRING literal as a raw
// types.Value; the planner coerces it to each column's declared type
// at bind time, per spec.md §6's type coercion rules.
func (p *Parser) parseLiteral() (types.Value, error) {
	neg := false
	if p.curToken.Kind == TokMinus {
		neg = true
		p.next()
	}
	switch p.curToken.Kind {
	case TokInt:
		n, err := strconv.ParseInt(p.curToken.Lit, 10, 64)
		if err != nil {
			return types.Value{}, err
		}
		if neg {
			n = -n
		}
		p.next()
		return types.BigIntValue(n), nil
	case TokFloat:
		f, err := strconv.ParseFloat(p.curToken.Lit, 64)
		if err != nil {
			return types.Value{}, err
		}
		if neg {
			f = -f
		}
		p.next()
		return types.FloatValue(f), nil
	case TokString:
		s := p.curToken.Lit
		p.next()
		return types.CharValue(s), nil
	}
	return types.Value{}, fmt.Errorf("stratumql: expected a literal, got %q", p.curToken.Lit)
}

// --- DELETE FROM t [WHERE ...] ---

func (p *Parser) parseDelete() (Statement, error) {
	p.next() // consume DELETE
	if err := p.expect(TokFrom); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	where, err := p.parseOptionalWhere()
	if err != nil {
		return nil, err
	}
	return DeleteStmt{Table: table, Where: where}, nil
}

// --- UPDATE t SET col = val[,...] [WHERE ...] ---

func (p *Parser) parseUpdate() (Statement, error) {
	p.next() // consume UPDATE
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokSet); err != nil {
		return nil, err
	}
	var sets []SetClause
	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expect(TokEq); err != nil {
			return nil, err
		}
		sc := SetClause{Col: col}
		if p.curToken.Kind == TokIdent && strings.EqualFold(p.curToken.Lit, col) {
			p.next()
			switch p.curToken.Kind {
			case TokPlus:
				sc.Op = SetAdd
			case TokMinus:
				sc.Op = SetSub
			default:
				return nil, fmt.Errorf("stratumql: expected + or - in SET clause, got %q", p.curToken.Lit)
			}
			p.next()
		}
		val, err := p.parseLiteral()
		if err != nil {
			return nil, err
		}
		sc.Value = val
		sets = append(sets, sc)
		if p.curToken.Kind == TokComma {
			p.next()
			continue
		}
		break
	}
	where, err := p.parseOptionalWhere()
	if err != nil {
		return nil, err
	}
	return UpdateStmt{Table: table, Sets: sets, Where: where}, nil
}

// --- SELECT items FROM t[,t|JOIN t] [WHERE] [ORDER BY] [LIMIT] ---

func (p *Parser) parseSelect() (Statement, error) {
	p.next() // consume SELECT
	items, err := p.parseSelectItems()
	if err != nil {
		return nil, err
	}
	if err := p.expect(TokFrom); err != nil {
		return nil, err
	}
	first, err := p.ident()
	if err != nil {
		return nil, err
	}
	tables := []string{first}
	if p.curToken.Kind == TokComma {
		p.next()
		t2, err := p.ident()
		if err != nil {
			return nil, err
		}
		tables = append(tables, t2)
	} else if p.curToken.Kind == TokJoin {
		p.next()
		t2, err := p.ident()
		if err != nil {
			return nil, err
		}
		tables = append(tables, t2)
	}
	where, err := p.parseOptionalWhere()
	if err != nil {
		return nil, err
	}
	var order []OrderItem
	if p.curToken.Kind == TokOrder {
		p.next()
		if err := p.expect(TokBy); err != nil {
			return nil, err
		}
		for {
			ref, err := p.parseColRef()
			if err != nil {
				return nil, err
			}
			desc := false
			if p.curToken.Kind == TokDesc {
				desc = true
				p.next()
			} else if p.curToken.Kind == TokAsc {
				p.next()
			}
			order = append(order, OrderItem{Table: ref.Table, Col: ref.Col, Desc: desc})
			if p.curToken.Kind == TokComma {
				p.next()
				continue
			}
			break
		}
	}
	var limit *int
	if p.curToken.Kind == TokLimit {
		p.next()
		if p.curToken.Kind != TokInt {
			return nil, fmt.Errorf("stratumql: expected integer after LIMIT, got %q", p.curToken.Lit)
		}
		n, err := strconv.Atoi(p.curToken.Lit)
		if err != nil {
			return nil, err
		}
		limit = &n
		p.next()
	}
	return SelectStmt{Items: items, Tables: tables, Where: where, OrderBy: order, Limit: limit}, nil
}

func (p *Parser) parseSelectItems() ([]SelectItem, error) {
	if p.curToken.Kind == TokAsterisk {
		p.next()
		return []SelectItem{{Star: true}}, nil
	}
	var items []SelectItem
	for {
		item, err := p.parseSelectItem()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
		if p.curToken.Kind == TokComma {
			p.next()
			continue
		}
		break
	}
	return items, nil
}

func (p *Parser) parseSelectItem() (SelectItem, error) {
	if p.curToken.Kind == TokIdent && p.peekToken.Kind == TokLParen {
		agg := strings.ToUpper(p.curToken.Lit)
		p.next()
		p.next() // consume (
		var col string
		if p.curToken.Kind == TokAsterisk {
			p.next()
		} else {
			c, err := p.ident()
			if err != nil {
				return SelectItem{}, err
			}
			col = c
		}
		if err := p.expect(TokRParen); err != nil {
			return SelectItem{}, err
		}
		alias := agg + "_" + col
		if p.curToken.Kind == TokAs {
			p.next()
			a, err := p.ident()
			if err != nil {
				return SelectItem{}, err
			}
			alias = a
		}
		return SelectItem{Agg: agg, Col: col, Alias: alias}, nil
	}
	ref, err := p.parseColRef()
	if err != nil {
		return SelectItem{}, err
	}
	return SelectItem{Table: ref.Table, Col: ref.Col, Alias: ref.Col}, nil
}

func (p *Parser) parseColRef() (ColRef, error) {
	name, err := p.ident()
	if err != nil {
		return ColRef{}, err
	}
	if p.curToken.Kind == TokDot {
		p.next()
		col, err := p.ident()
		if err != nil {
			return ColRef{}, err
		}
		return ColRef{Table: name, Col: col}, nil
	}
	return ColRef{Col: name}, nil
}

// --- shared WHERE clause ---

func (p *Parser) parseOptionalWhere() ([]Condition, error) {
	if p.curToken.Kind != TokWhere {
		return nil, nil
	}
	p.next()
	var conds []Condition
	for {
		cond, err := p.parseCondition()
		if err != nil {
			return nil, err
		}
		conds = append(conds, cond)
		if p.curToken.Kind == TokAnd {
			p.next()
			continue
		}
		break
	}
	return conds, nil
}

func (p *Parser) parseCondition() (Condition, error) {
	left, err := p.parseColRef()
	if err != nil {
		return Condition{}, err
	}
	op, err := p.parseCondOp()
	if err != nil {
		return Condition{}, err
	}
	// The right-hand side is a column reference only when it's an
	// identifier not immediately followed by '(' (which would make it
	// an aggregate, invalid here).
	if p.curToken.Kind == TokIdent && p.peekToken.Kind != TokLParen {
		right, err := p.parseColRef()
		if err != nil {
			return Condition{}, err
		}
		return Condition{Left: left, Op: op, RightIsCol: true, RightCol: right}, nil
	}
	val, err := p.parseLiteral()
	if err != nil {
		return Condition{}, err
	}
	return Condition{Left: left, Op: op, RightVal: val}, nil
}

func (p *Parser) parseCondOp() (CondOp, error) {
	var op CondOp
	switch p.curToken.Kind {
	case TokEq:
		op = CondEq
	case TokNe:
		op = CondNe
	case TokLt:
		op = CondLt
	case TokLe:
		op = CondLe
	case TokGt:
		op = CondGt
	case TokGe:
		op = CondGe
	default:
		return 0, fmt.Errorf("stratumql: expected a comparison operator, got %q", p.curToken.Lit)
	}
	p.next()
	return op, nil
}
