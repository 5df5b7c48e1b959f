// Copyright 2026 Formal Kernel Authors

package parser

import "fmt"

// SyntaxError is a structural parse failure: a malformed intent source that
// cannot be turned into an IR at all (spec §4.1: "syntactic error surfaced as
// REJECT with line/column").
type SyntaxError struct {
	Line    int
	Column  int
	Message string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("parser: line %d column %d: %s", e.Line, e.Column, e.Message)
}

func newSyntaxError(tok token, format string, args ...interface{}) *SyntaxError {
	return &SyntaxError{
		Line:    tok.line,
		Column:  tok.column,
		Message: fmt.Sprintf(format, args...),
	}
}
