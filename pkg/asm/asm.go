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

// Package asm implements the two-pass CASL II assembler: pass 1 builds the
// symbol table and a sparse memory image (with provisional, deferred
// operand values where a forward reference has not yet been resolved);
// pass 2 resolves every deferred value through the symbol table and
// produces the final word stream for the object writer.
package asm

import (
	"bufio"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/chriskeane/casl2go/pkg/symtab"
	"github.com/chriskeane/casl2go/pkg/token"
)

// InstType classifies an instruction's operand shape and word count.
type InstType int

const (
	OpNone InstType = iota
	Op1             // GR, adr[, XR]        -> 2 words
	Op2             // adr[, XR]            -> 2 words
	Op3             // GR                   -> 1 word
	Op4             // (no operand)         -> 1 word
	Op5             // GR, adr[, XR] | GR, GR -> 2 or 1 words
	InstStart
	InstEnd
	InstDS
	InstDC
	InstIN
	InstOUT
	InstRPUSH
	InstRPOP
)

// InstDef names an instruction's opcode and operand shape.
type InstDef struct {
	Code uint8
	Type InstType
}

// InstTable is the full CASL II mnemonic table, including the MULA/DIVA/
// MULL/DIVL supplement (opcodes 0x28-0x2B) absent from stock CASL II but
// present in the real COMET II instruction set.
var InstTable = map[string]InstDef{
	"NOP": {0x00, Op4},

	"LD":  {0x10, Op5},
	"ST":  {0x11, Op1},
	"LAD": {0x12, Op1},

	"ADDA": {0x20, Op5},
	"SUBA": {0x21, Op5},
	"ADDL": {0x22, Op5},
	"SUBL": {0x23, Op5},

	"MULA": {0x28, Op5},
	"DIVA": {0x29, Op5},
	"MULL": {0x2A, Op5},
	"DIVL": {0x2B, Op5},

	"AND": {0x34, Op5},
	"OR":  {0x35, Op5},
	"XOR": {0x36, Op5},

	"CPA": {0x40, Op5},
	"CPL": {0x41, Op5},

	"SLA": {0x50, Op1},
	"SRA": {0x51, Op1},
	"SLL": {0x52, Op1},
	"SRL": {0x53, Op1},

	"JMI":  {0x61, Op2},
	"JNZ":  {0x62, Op2},
	"JZE":  {0x63, Op2},
	"JUMP": {0x64, Op2},
	"JPL":  {0x65, Op2},
	"JOV":  {0x66, Op2},

	"PUSH": {0x70, Op2},
	"POP":  {0x71, Op3},

	"CALL": {0x80, Op2},
	"RET":  {0x81, Op4},

	"SVC": {0xF0, Op2},

	"START": {0, InstStart},
	"END":   {0, InstEnd},
	"DS":    {0, InstDS},
	"DC":    {0, InstDC},
	"IN":    {0, InstIN},
	"OUT":   {0, InstOUT},

	"RPUSH": {0, InstRPUSH},
	"RPOP":  {0, InstRPOP},
}

// RegisterForm reports the +4 register-register opcode used by Op5
// instructions when both operands name a GR instead of an address.
func RegisterForm(code uint8) uint8 {
	return code + 4
}

// Value is a memory cell's contents: either a concrete 16-bit word,
// already known in pass 1, or an expression string to be resolved against
// the symbol table in pass 2.
type Value struct {
	Concrete uint16
	Expr     string
	Deferred bool
}

func concrete(v uint16) Value { return Value{Concrete: v} }
func deferred(e string) Value { return Value{Expr: e, Deferred: true} }

// Cell is one word of the memory image, with its originating source
// position for diagnostics and, for a deferred value, the START scope it
// was assembled under (needed to qualify a bare label at resolve time).
type Cell struct {
	Value Value
	File  string
	Line  int
	Scope string
}

// Program is the result of pass 1: a sparse memory image plus the symbol
// table needed to resolve it.
type Program struct {
	Memory     map[uint16]Cell
	Symbols    *symtab.SymTable
	EntryExpr  string // resolved in pass 2
	EntryScope string
	EntryFile  string
	EntryLine  int
	HighWater  uint16
}

// diagnostic error types, per spec §7.

type illegalInstructionError struct{ file string; line int; name string }
func (e *illegalInstructionError) Error() string {
	return diag(e.file, e.line, "Illegal instruction \""+e.name+"\"")
}

type invalidOperandError struct{ file string; line int; operand string }
func (e *invalidOperandError) Error() string {
	return diag(e.file, e.line, "Invalid operand \""+e.operand+"\"")
}

type gr0IndexError struct{ file string; line int }
func (e *gr0IndexError) Error() string {
	return diag(e.file, e.line, "Can't use GR0 as an index register")
}

type noStartError struct{ file string }
func (e *noStartError) Error() string {
	return e.file + ": No \"START\" instruction found"
}

type noEndError struct{ file string }
func (e *noEndError) Error() string {
	return e.file + ": No \"END\" instruction found"
}

type noLabelAtStartError struct{ file string; line int }
func (e *noLabelAtStartError) Error() string {
	return diag(e.file, e.line, "No label found at START")
}

type labelAtEndError struct{ file string; line int; name string }
func (e *labelAtEndError) Error() string {
	return diag(e.file, e.line, "Can't use label \""+e.name+"\" at END")
}

type instNotImplementedError struct{ file string; line int; typ string }
func (e *instNotImplementedError) Error() string {
	return diag(e.file, e.line, "Instruction type \""+e.typ+"\" is not implemented")
}

type invalidLiteralError struct{ file string; line int; text string }
func (e *invalidLiteralError) Error() string {
	return diag(e.file, e.line, "Invalid literal: "+e.text)
}

type mustBeDecimalError struct{ file string; line int; text string }
func (e *mustBeDecimalError) Error() string {
	return diag(e.file, e.line, "\""+e.text+"\" must be decimal")
}

func diag(file string, line int, msg string) string {
	return file + ":" + strconv.Itoa(line) + ": " + msg
}

// Assemble runs both passes over src and returns the resolved word stream
// (memory[0..high)), the entry point address, and every error produced
// along the way. When errs is non-empty the returned words/entry are not
// meaningful.
func Assemble(file string, src io.Reader) (words []uint16, entry uint16, st *symtab.SymTable, errs []error) {
	prog, perrs := pass1(file, src)
	errs = append(errs, perrs...)

	if len(errs) > 0 {
		return nil, 0, prog.Symbols, errs
	}

	words, entry, werrs := pass2(file, prog)
	errs = append(errs, werrs...)

	return words, entry, prog.Symbols, errs
}

func pass1(file string, src io.Reader) (Program, []error) {
	st := symtab.New()
	st.Source = file

	prog := Program{Memory: make(map[uint16]Cell), Symbols: st}

	var errs []error
	var addr uint16
	var scope string
	var inBlock bool
	var seenStart, seenEnd bool
	var firstStart = true
	var pending = map[string]string{} // scope -> pending actual label text
	var literalQueue []string          // in-block literal pool, in staged order

	scanner := bufio.NewScanner(src)
	lineno := 0

	for scanner.Scan() {
		lineno++
		raw := scanner.Text()

		ln, err := token.ParseLine(file, lineno, raw)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		if ln.Blank {
			continue
		}

		mnemonic := ln.Mnemonic
		def, ok := InstTable[mnemonic]
		if !ok {
			errs = append(errs, &illegalInstructionError{file, lineno, mnemonic})
			continue
		}

		operands := token.SplitOperands(ln.Operand)

		switch def.Type {
		case InstStart:
			if ln.Label == "" {
				errs = append(errs, &noLabelAtStartError{file, lineno})
				continue
			}

			seenStart = true
			scope = ln.Label
			inBlock = true
			literalQueue = nil

			if err := st.AddLabel(scope, scope, addr, file, lineno); err != nil {
				errs = append(errs, err)
			}

			opText := ""
			if len(operands) > 0 {
				opText = operands[0]
			}

			if firstStart {
				if opText != "" {
					prog.EntryExpr = opText
					prog.EntryScope = scope
				} else {
					prog.EntryExpr = scope + "." + scope
					prog.EntryScope = ""
				}
				prog.EntryFile = file
				prog.EntryLine = lineno
				firstStart = false
			}

			if opText != "" && opText != scope {
				pending[scope] = opText
			}

			continue

		case InstEnd:
			if ln.Label != "" {
				errs = append(errs, &labelAtEndError{file, lineno, ln.Label})
			}

			for i := len(literalQueue) - 1; i >= 0; i-- {
				text := literalQueue[i]
				words, werr := literalWords(text)
				if werr != nil {
					errs = append(errs, &invalidLiteralError{file, lineno, text})
					continue
				}
				st.AddLiteral(scope, text, addr, file, lineno)
				for _, w := range words {
					prog.Memory[addr] = Cell{Value: concrete(w), File: file, Line: lineno}
					addr++
				}
			}

			literalQueue = nil
			inBlock = false
			seenEnd = true
			continue
		}

		if !inBlock {
			errs = append(errs, &illegalInstructionError{file, lineno, mnemonic})
			continue
		}

		if ln.Label != "" {
			if err := st.AddLabel(scope, ln.Label, addr, file, lineno); err != nil {
				errs = append(errs, err)
			}

			if want, ok := pending[scope]; ok && want == ln.Label {
				st.UpdateLabel(scope, scope, addr)
				delete(pending, scope)
			}
		}

		queueLiteral := func(operand string) string {
			if strings.HasPrefix(operand, "=") {
				for _, seen := range literalQueue {
					if seen == operand {
						return operand
					}
				}
				literalQueue = append(literalQueue, operand)
			}
			return operand
		}

		switch def.Type {
		case Op1:
			if len(operands) < 2 || len(operands) > 3 {
				errs = append(errs, &invalidOperandError{file, lineno, ln.Operand})
				continue
			}
			gr, err := parseGR(operands[0])
			if err != nil {
				errs = append(errs, &invalidOperandError{file, lineno, operands[0]})
				continue
			}
			xr := uint8(0)
			if len(operands) == 3 {
				xr, err = parseGR(operands[2])
				if err != nil {
					errs = append(errs, &invalidOperandError{file, lineno, operands[2]})
					continue
				}
				if xr == 0 {
					errs = append(errs, &gr0IndexError{file, lineno})
					continue
				}
			}
			adrExpr := queueLiteral(operands[1])
			word0 := uint16(def.Code)<<8 | uint16(gr)<<4 | uint16(xr)
			prog.Memory[addr] = Cell{Value: concrete(word0), File: file, Line: lineno}
			addr++
			prog.Memory[addr] = Cell{Value: deferred(qualifyExpr(scope, adrExpr)), File: file, Line: lineno, Scope: scope}
			addr++

		case Op2:
			if len(operands) < 1 || len(operands) > 2 {
				errs = append(errs, &invalidOperandError{file, lineno, ln.Operand})
				continue
			}
			xr := uint8(0)
			var err error
			if len(operands) == 2 {
				xr, err = parseGR(operands[1])
				if err != nil {
					errs = append(errs, &invalidOperandError{file, lineno, operands[1]})
					continue
				}
				if xr == 0 {
					errs = append(errs, &gr0IndexError{file, lineno})
					continue
				}
			}
			adrExpr := queueLiteral(operands[0])
			if mnemonic == "CALL" {
				adrExpr = "CALL_" + scope + "." + adrExpr
			}
			word0 := uint16(def.Code)<<8 | uint16(xr)
			prog.Memory[addr] = Cell{Value: concrete(word0), File: file, Line: lineno}
			addr++
			expr := adrExpr
			if !strings.HasPrefix(expr, "CALL_") {
				expr = qualifyExpr(scope, expr)
			}
			prog.Memory[addr] = Cell{Value: deferred(expr), File: file, Line: lineno, Scope: scope}
			addr++

		case Op3:
			if len(operands) != 1 {
				errs = append(errs, &invalidOperandError{file, lineno, ln.Operand})
				continue
			}
			gr, err := parseGR(operands[0])
			if err != nil {
				errs = append(errs, &invalidOperandError{file, lineno, operands[0]})
				continue
			}
			word0 := uint16(def.Code)<<8 | uint16(gr)<<4
			prog.Memory[addr] = Cell{Value: concrete(word0), File: file, Line: lineno}
			addr++

		case Op4:
			if ln.Operand != "" {
				errs = append(errs, &invalidOperandError{file, lineno, ln.Operand})
				continue
			}
			word0 := uint16(def.Code) << 8
			prog.Memory[addr] = Cell{Value: concrete(word0), File: file, Line: lineno}
			addr++

		case Op5:
			if len(operands) == 2 && isGR(operands[0]) && isGR(operands[1]) {
				gr1, _ := parseGR(operands[0])
				gr2, _ := parseGR(operands[1])
				word0 := uint16(RegisterForm(def.Code))<<8 | uint16(gr1)<<4 | uint16(gr2)
				prog.Memory[addr] = Cell{Value: concrete(word0), File: file, Line: lineno}
				addr++
				continue
			}
			if len(operands) < 2 || len(operands) > 3 {
				errs = append(errs, &invalidOperandError{file, lineno, ln.Operand})
				continue
			}
			gr, err := parseGR(operands[0])
			if err != nil {
				errs = append(errs, &invalidOperandError{file, lineno, operands[0]})
				continue
			}
			xr := uint8(0)
			if len(operands) == 3 {
				xr, err = parseGR(operands[2])
				if err != nil {
					errs = append(errs, &invalidOperandError{file, lineno, operands[2]})
					continue
				}
				if xr == 0 {
					errs = append(errs, &gr0IndexError{file, lineno})
					continue
				}
			}
			adrExpr := queueLiteral(operands[1])
			word0 := uint16(def.Code)<<8 | uint16(gr)<<4 | uint16(xr)
			prog.Memory[addr] = Cell{Value: concrete(word0), File: file, Line: lineno}
			addr++
			prog.Memory[addr] = Cell{Value: deferred(qualifyExpr(scope, adrExpr)), File: file, Line: lineno, Scope: scope}
			addr++

		case InstDS:
			n, err := strconv.ParseUint(strings.TrimSpace(ln.Operand), 10, 16)
			if err != nil {
				errs = append(errs, &mustBeDecimalError{file, lineno, ln.Operand})
				continue
			}
			for i := uint64(0); i < n; i++ {
				prog.Memory[addr] = Cell{Value: concrete(0), File: file, Line: lineno}
				addr++
			}

		case InstDC:
			for _, operand := range operands {
				if strings.HasPrefix(operand, "'") {
					decoded, err := decodeString(operand)
					if err != nil {
						errs = append(errs, &invalidOperandError{file, lineno, operand})
						continue
					}
					for _, c := range decoded {
						prog.Memory[addr] = Cell{Value: concrete(uint16(c)), File: file, Line: lineno}
						addr++
					}
					continue
				}
				prog.Memory[addr] = Cell{Value: deferred(qualifyExpr(scope, operand)), File: file, Line: lineno, Scope: scope}
				addr++
			}

		case InstIN, InstOUT:
			if len(operands) != 2 {
				errs = append(errs, &invalidOperandError{file, lineno, ln.Operand})
				continue
			}
			buf, length := operands[0], operands[1]
			vector := "#FFF0"
			if def.Type == InstOUT {
				vector = "#FFF2"
			}
			addr = emitIOMacro(prog, scope, buf, length, vector, file, lineno, addr)

		case InstRPUSH:
			for r := uint8(1); r <= 7; r++ {
				word0 := uint16(InstTable["PUSH"].Code)<<8 | uint16(r)
				prog.Memory[addr] = Cell{Value: concrete(word0), File: file, Line: lineno}
				addr++
				prog.Memory[addr] = Cell{Value: concrete(0), File: file, Line: lineno}
				addr++
			}

		case InstRPOP:
			for r := uint8(7); r >= 1; r-- {
				word0 := uint16(InstTable["POP"].Code)<<8 | uint16(r)<<4
				prog.Memory[addr] = Cell{Value: concrete(word0), File: file, Line: lineno}
				addr++
			}

		default:
			errs = append(errs, &instNotImplementedError{file, lineno, mnemonic})
		}
	}

	if !seenStart {
		errs = append(errs, &noStartError{file})
	}
	if seenStart && !seenEnd {
		errs = append(errs, &noEndError{file})
	}

	prog.HighWater = addr

	for a, cell := range prog.Memory {
		st.MarkLine(a, cell.Line)
	}

	return prog, errs
}

// emitIOMacro expands IN/OUT into its fixed 12-word sequence:
// PUSH GR1 ; PUSH GR2 ; LAD GR1,buf ; LAD GR2,len ; SVC vector ; POP GR2 ; POP GR1
func emitIOMacro(prog Program, scope, buf, length, vector, file string, lineno int, addr uint16) uint16 {
	push := InstTable["PUSH"].Code
	pop := InstTable["POP"].Code
	lad := InstTable["LAD"].Code
	svc := InstTable["SVC"].Code

	emit := func(word uint16) {
		prog.Memory[addr] = Cell{Value: concrete(word), File: file, Line: lineno}
		addr++
	}
	emitDeferred := func(expr string) {
		prog.Memory[addr] = Cell{Value: deferred(expr), File: file, Line: lineno, Scope: scope}
		addr++
	}

	emit(uint16(push)<<8 | 1) // PUSH 0,GR1
	emit(0)
	emit(uint16(push)<<8 | 2) // PUSH 0,GR2
	emit(0)

	emit(uint16(lad)<<8 | 1<<4) // LAD GR1, buf
	emitDeferred(qualifyExpr(scope, buf))

	emit(uint16(lad)<<8 | 2<<4) // LAD GR2, len
	emitDeferred(qualifyExpr(scope, length))

	emit(uint16(svc) << 8) // SVC vector
	emitDeferred(vector)

	emit(uint16(pop)<<8 | 2<<4) // POP GR2
	emit(uint16(pop)<<8 | 1<<4) // POP GR1

	return addr
}

// qualifyExpr leaves hex literals, decimal literals and literal-pool
// references untouched, but a bare identifier is resolved relative to
// scope by symtab.Resolve, so it is passed through unchanged here: the
// scope is threaded through at resolution time, not baked into the text.
func qualifyExpr(scope, expr string) string {
	return expr
}

func isGR(s string) bool {
	_, err := parseGR(s)
	return err == nil
}

func parseGR(s string) (uint8, error) {
	if len(s) != 3 || s[0] != 'G' || s[1] != 'R' {
		return 0, &strconvError{}
	}
	n := s[2]
	if n < '0' || n > '7' {
		return 0, &strconvError{}
	}
	return n - '0', nil
}

type strconvError struct{}
func (e *strconvError) Error() string { return "invalid register" }

// decodeString decodes a 'quoted' DC string literal, honoring '' as an
// escaped quote, with no terminating word appended.
func decodeString(s string) (string, error) {
	if len(s) < 2 || s[0] != '\'' || s[len(s)-1] != '\'' {
		return "", &strconvError{}
	}

	body := s[1 : len(s)-1]
	var out strings.Builder

	for i := 0; i < len(body); i++ {
		if body[i] == '\'' {
			if i+1 < len(body) && body[i+1] == '\'' {
				out.WriteByte('\'')
				i++
				continue
			}
			return "", &strconvError{}
		}
		out.WriteByte(body[i])
	}

	return out.String(), nil
}

// literalWords decodes a literal pool entry's text (including its leading
// '=', which is skipped) into the word(s) it materializes to: one word for a numeric or hex
// literal, one word per byte for a string literal.
func literalWords(text string) ([]uint16, error) {
	body := text[1:]

	if strings.HasPrefix(body, "'") {
		decoded, err := decodeString(body)
		if err != nil {
			return nil, err
		}
		words := make([]uint16, len(decoded))
		for i, c := range decoded {
			words[i] = uint16(c)
		}
		return words, nil
	}

	if strings.HasPrefix(body, "#") {
		v, err := strconv.ParseUint(body[1:], 16, 16)
		if err != nil {
			return nil, err
		}
		return []uint16{uint16(v)}, nil
	}

	n, err := strconv.ParseInt(body, 10, 32)
	if err != nil {
		return nil, err
	}
	return []uint16{uint16(uint32(int32(n)))}, nil
}

func pass2(file string, prog Program) ([]uint16, uint16, []error) {
	var errs []error

	addrs := make([]uint16, 0, len(prog.Memory))
	for a := range prog.Memory {
		addrs = append(addrs, a)
	}
	sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

	words := make([]uint16, prog.HighWater)

	for _, a := range addrs {
		cell := prog.Memory[a]
		if !cell.Value.Deferred {
			words[a] = cell.Value.Concrete
			continue
		}

		v, err := prog.Symbols.Resolve(cell.Scope, cell.Value.Expr, cell.File, cell.Line)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		words[a] = v
	}

	var entry uint16
	if prog.EntryExpr != "" {
		v, err := prog.Symbols.Resolve(prog.EntryScope, prog.EntryExpr, prog.EntryFile, prog.EntryLine)
		if err != nil {
			errs = append(errs, err)
		} else {
			entry = v
		}
	}

	return words, entry, errs
}

