// Package stratumql is the reduced SQL front end spec.md §6 requires:
// a lexer/parser producing a small AST, and a planner that lowers that
// AST into storageengine.Session calls and exec.Node trees.
//
// Grounded on DaemonDB/query_parser/{lexer,parser}'s two-stage shape
// (a byte-at-a-time Lexer feeding a recursive-descent Parser that
// builds typed Statement structs), adapted from the teacher's
// panic-on-error parsing to ordinary error returns: the teacher's
// ParseStatement has no caller that recovers from its panics, which
// would crash a long-lived session on the first malformed statement —
// unacceptable for the session model spec.md §2 describes.
package stratumql

// TokenKind enumerates every lexical token stratumql's grammar uses.
type TokenKind int

const (
	TokEOF TokenKind = iota
	TokIllegal

	TokIdent
	TokInt
	TokFloat
	TokString

	// Punctuation
	TokLParen
	TokRParen
	TokComma
	TokSemicolon
	TokDot
	TokAsterisk
	TokPlus
	TokMinus

	// Comparison operators
	TokEq
	TokNe
	TokLt
	TokLe
	TokGt
	TokGe

	// Keywords
	TokCreate
	TokDrop
	TokTable
	TokIndex
	TokUnique
	TokShow
	TokTables
	TokFrom
	TokDesc
	TokInsert
	TokInto
	TokValues
	TokDelete
	TokWhere
	TokUpdate
	TokSet
	TokSelect
	TokJoin
	TokOrder
	TokBy
	TokAsc
	TokLimit
	TokBegin
	TokCommit
	TokAbort
	TokRollback
	TokHelp
	TokExit
	TokAnd
	TokAs
	TokPrimary
	TokKey
	TokNull
)

// Token is one lexed unit: its kind plus the literal text it was read
// from (used for identifiers, numbers, and string contents).
type Token struct {
	Kind TokenKind
	Lit  string
}

var keywords = map[string]TokenKind{
	"CREATE":   TokCreate,
	"DROP":     TokDrop,
	"TABLE":    TokTable,
	"INDEX":    TokIndex,
	"UNIQUE":   TokUnique,
	"SHOW":     TokShow,
	"TABLES":   TokTables,
	"FROM":     TokFrom,
	"DESC":     TokDesc,
	"INSERT":   TokInsert,
	"INTO":     TokInto,
	"VALUES":   TokValues,
	"DELETE":   TokDelete,
	"WHERE":    TokWhere,
	"UPDATE":   TokUpdate,
	"SET":      TokSet,
	"SELECT":   TokSelect,
	"JOIN":     TokJoin,
	"ORDER":    TokOrder,
	"BY":       TokBy,
	"ASC":      TokAsc,
	"LIMIT":    TokLimit,
	"BEGIN":    TokBegin,
	"COMMIT":   TokCommit,
	"ABORT":    TokAbort,
	"ROLLBACK": TokRollback,
	"HELP":     TokHelp,
	"EXIT":     TokExit,
	"AND":      TokAnd,
	"AS":       TokAs,
	"PRIMARY":  TokPrimary,
	"KEY":      TokKey,
	"NULL":     TokNull,
}
