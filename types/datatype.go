// Package types holds value and schema types shared by every storage
// engine layer: column types, fixed-width encoding, Rid/Iid, and the
// table schema the catalog persists.
package types

import (
	"fmt"
	"strings"
)

// DataType enumerates the column types listed in spec.md §6.
type DataType int

const (
	TypeInt DataType = iota
	TypeBigInt
	TypeFloat
	TypeChar
	TypeDatetime
)

func (t DataType) String() string {
	switch t {
	case TypeInt:
		return "INT"
	case TypeBigInt:
		return "BIGINT"
	case TypeFloat:
		return "FLOAT"
	case TypeChar:
		return "CHAR"
	case TypeDatetime:
		return "DATETIME"
	}
	return "UNKNOWN"
}

// ParseDataType maps a SQL type name (optionally with a "(n)" length
// suffix for CHAR) to a DataType and its fixed width in bytes.
func ParseDataType(name string, length int) (DataType, int, error) {
	switch strings.ToUpper(name) {
	case "INT":
		return TypeInt, 4, nil
	case "BIGINT":
		return TypeBigInt, 8, nil
	case "FLOAT":
		return TypeFloat, 8, nil
	case "CHAR":
		if length <= 0 {
			return 0, 0, fmt.Errorf("CHAR requires a positive length")
		}
		return TypeChar, length, nil
	case "DATETIME":
		return TypeDatetime, DatetimeWidth, nil
	}
	return 0, 0, fmt.Errorf("unknown type %q", name)
}

// DatetimeWidth is the fixed width of a "YYYY-MM-DD HH:MM:SS" literal.
const DatetimeWidth = 19
