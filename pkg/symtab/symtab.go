// Copyright (C) 2021  Antonio Lassandro

// This program is free software: you can redistribute it and/or modify it
// under the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.

// This program is distributed in the hope that it will be useful, but WITHOUT
// ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
// FITNESS FOR A PARTICULAR PURPOSE.  See the GNU General Public License for
// more details.

// You should have received a copy of the GNU General Public License along
// with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package symtab implements the scoped symbol table used by the two-pass
// assembler: labels qualified by their enclosing START block, a literal
// pool keyed by START block and exact literal text, and the deferred-operand resolver that
// both passes share. A SymTable is also the unit gob-encoded into the
// assembler's .sym side-car file, which is why its fields are exported.
package symtab

import (
	"strconv"
	"strings"
)

// Symbol is one resolved entry: a label, a literal, or a START block name.
type Symbol struct {
	Name  string // qualified form, e.g. "FOO.FOO" or "FOO.BAR"
	Value uint16
	File  string
	Line  int
}

// SymTable holds every label and literal seen across the whole source,
// qualified by the START block ("scope") each was defined in.
type SymTable struct {
	Source string // path to the assembled source, for debugger use

	Symbols map[string]Symbol

	// LiteralText maps a scope-qualified internal key to the literal's
	// plain source text, used only to recover the text for diagnostics.
	LiteralText map[string]string

	// Lines maps a memory address to the source line that produced it,
	// for the debugger's source-annotated disassembly.
	Lines map[uint16]int
}

// New returns an empty symbol table.
func New() *SymTable {
	return &SymTable{
		Symbols:     make(map[string]Symbol),
		LiteralText: make(map[string]string),
		Lines:       make(map[uint16]int),
	}
}

// RedeclaredLabelError reports a label defined more than once.
type RedeclaredLabelError struct {
	File string
	Line int
	Name string
}

func (e *RedeclaredLabelError) Error() string {
	return e.File + ":" + strconv.Itoa(e.Line) + ": Label \"" + e.Name + "\" already defined"
}

// UnknownSymbolError reports an operand that resolves to nothing.
type UnknownSymbolError struct {
	File string
	Line int
	Name string // pretty form, for the message
}

func (e *UnknownSymbolError) Error() string {
	return e.File + ":" + strconv.Itoa(e.Line) + ": Undefined symbol \"" + e.Name + "\""
}

func qualify(scope, label string) string {
	return scope + "." + label
}

// AddLabel records label as defined at addr within scope. scope is the
// enclosing START block's own label (scope == label for the block's own
// entry symbol). Returns a *RedeclaredLabelError if the qualified name is
// already taken.
func (t *SymTable) AddLabel(scope, label string, addr uint16, file string, line int) error {
	key := qualify(scope, label)

	if _, ok := t.Symbols[key]; ok {
		return &RedeclaredLabelError{file, line, label}
	}

	t.Symbols[key] = Symbol{Name: key, Value: addr, File: file, Line: line}

	return nil
}

// UpdateLabel overwrites an existing qualified symbol's value in place,
// used by the START virtual-label/actual-label patch mechanism: the first
// time a START block's pending actual label is seen as an ordinary
// label definition, the block's own virtual X.X entry is retargeted to the
// real address instead of staying at the START line's address.
func (t *SymTable) UpdateLabel(scope, label string, addr uint16) {
	key := qualify(scope, label)

	if sym, ok := t.Symbols[key]; ok {
		sym.Value = addr
		t.Symbols[key] = sym
	}
}

// Has reports whether the qualified name scope.label is already defined.
func (t *SymTable) Has(scope, label string) bool {
	_, ok := t.Symbols[qualify(scope, label)]
	return ok
}

// literalKey produces the internal map key for a literal. Literal pools
// are per-START-block (drained at that block's END), but the assembler
// also needs pass-2 lookups to be unambiguous across two blocks that
// happen to stage byte-identical literal text (e.g. two routines both
// using =1). Qualifying the lookup key by scope, never shown to the user,
// avoids that collision without changing how literals print in
// diagnostics (which is always the plain literal text).
func literalKey(scope, text string) string {
	return scope + "\x00" + text
}

// AddLiteral stages a literal's final address once its pool is drained at
// END. text is the exact source text of the operand, including the
// leading '='.
func (t *SymTable) AddLiteral(scope, text string, addr uint16, file string, line int) {
	key := literalKey(scope, text)
	t.LiteralText[key] = text
	t.Symbols[key] = Symbol{Name: text, Value: addr, File: file, Line: line}
}

// ResolveLiteral looks up a previously staged literal within scope.
func (t *SymTable) ResolveLiteral(scope, text string) (uint16, bool) {
	sym, ok := t.Symbols[literalKey(scope, text)]
	return sym.Value, ok
}

// MarkLine records that addr was produced by line in the assembled
// source, for later debugger lookups.
func (t *SymTable) MarkLine(addr uint16, line int) {
	t.Lines[addr] = line
}

// LineForAddr returns the source line that produced addr, if known.
func (t *SymTable) LineForAddr(addr uint16) (int, bool) {
	line, ok := t.Lines[addr]
	return line, ok
}

// Resolve evaluates a deferred operand expression to its 16-bit value.
// expr may be:
//   - a hex literal, "#hhhh"
//   - a signed decimal literal
//   - a symbol name, looked up first exactly as given (an already
//     qualified name such as an entry symbol "X.X"), then as scope.expr.
//     If expr carries the CALL_ rewrite prefix used for cross-routine
//     CALL targets, the prefix is stripped, the remaining name is looked
//     up as given, and the fallback is tail.tail (the target's own
//     block) instead of scope.expr.
//   - a literal's exact text (="...")
//
// scope is the caller's enclosing START block, used to qualify bare
// symbol lookups.
func (t *SymTable) Resolve(scope, expr string, file string, line int) (uint16, error) {
	if strings.HasPrefix(expr, "#") {
		v, err := strconv.ParseUint(expr[1:], 16, 16)
		if err != nil {
			return 0, &UnknownSymbolError{file, line, expr}
		}
		return uint16(v), nil
	}

	if strings.HasPrefix(expr, "=") {
		if v, ok := t.ResolveLiteral(scope, expr); ok {
			return v, nil
		}
		return 0, &UnknownSymbolError{file, line, expr}
	}

	if n, err := strconv.ParseInt(expr, 10, 32); err == nil {
		return uint16(uint32(int32(n))), nil
	}

	name := expr
	isCall := strings.HasPrefix(name, "CALL_")
	if isCall {
		name = strings.TrimPrefix(name, "CALL_")
	}

	if sym, ok := t.Symbols[name]; ok {
		return sym.Value, nil
	}

	if isCall {
		tail := name
		if i := strings.LastIndex(tail, "."); i >= 0 {
			tail = tail[i+1:]
		}
		if sym, ok := t.Symbols[qualify(tail, tail)]; ok {
			return sym.Value, nil
		}
	} else if sym, ok := t.Symbols[qualify(scope, name)]; ok {
		return sym.Value, nil
	}

	return 0, &UnknownSymbolError{file, line, PrettyName(name)}
}

// PrettyName renders a qualified symbol name for diagnostics: "X.X"
// becomes "X" (the block's own label), "S.Y" becomes "Y in routine S".
func PrettyName(qualified string) string {
	i := strings.Index(qualified, ".")
	if i < 0 {
		return qualified
	}

	scope, label := qualified[:i], qualified[i+1:]

	if scope == label {
		return scope
	}

	return label + " in routine " + scope
}
