package sheet

import (
	"strconv"
	"strings"
)

// A1 renders the address in A1 notation ("B3").
func (a Addr) A1() string {
	return ColLetter(a.Col) + strconv.Itoa(a.Row+1)
}

func (a Addr) String() string { return a.A1() }

// ColLetter converts a zero-based column index into its spreadsheet letter
// name: 0 is "A", 25 is "Z", 26 is "AA".
func ColLetter(col int) string {
	if col < 0 {
		return ""
	}
	var buf [8]byte
	i := len(buf)
	for col >= 0 {
		i--
		buf[i] = byte('A' + col%26)
		col = col/26 - 1
	}
	return string(buf[i:])
}

// quoteSheet wraps a tab title for use in an A1 reference. Single quotes
// survive any title Sheets itself accepts.
func quoteSheet(title string) string {
	return "'" + strings.ReplaceAll(title, "'", "''") + "'"
}
