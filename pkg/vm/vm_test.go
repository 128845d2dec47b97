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

package vm

import (
	"bufio"
	"strings"
	"testing"
)

func newMachine(words []uint16, entry uint16) *Machine {
	var m Machine
	m.Reset()
	m.Load(words, entry)
	return &m
}

func TestStepLAD(t *testing.T) {
	m := newMachine([]uint16{0x1210, 5}, 0) // LAD GR1, #0005
	if _, err := m.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Registers.GR[1] != 5 {
		t.Fatalf("GR1 = %#04x, want 5", m.Registers.GR[1])
	}
	if m.Registers.PR != 2 {
		t.Fatalf("PR = %#04x, want 2", m.Registers.PR)
	}
}

func TestStepPushPopRoundTrip(t *testing.T) {
	m := newMachine([]uint16{
		0x7001, 0, // PUSH 0,GR1
		0x7120,    // POP GR2
	}, 0)
	m.Registers.GR[1] = 0x1234

	if _, err := m.Step(); err != nil {
		t.Fatalf("push: unexpected error: %v", err)
	}
	if _, err := m.Step(); err != nil {
		t.Fatalf("pop: unexpected error: %v", err)
	}

	if m.Registers.GR[2] != 0x1234 {
		t.Fatalf("GR2 = %#04x, want %#04x", m.Registers.GR[2], 0x1234)
	}
	if m.Registers.SP != StackTop {
		t.Fatalf("SP = %#04x, want %#04x (stack balanced)", m.Registers.SP, StackTop)
	}
}

func TestStepCallRetDuality(t *testing.T) {
	words := make([]uint16, 11)
	words[0] = 0x8000 // CALL #000A
	words[1] = 10
	words[10] = 0x8100 // RET

	m := newMachine(words, 0)

	if _, err := m.Step(); err != nil { // CALL
		t.Fatalf("call: unexpected error: %v", err)
	}
	if m.Registers.PR != 10 {
		t.Fatalf("PR after CALL = %#04x, want 10", m.Registers.PR)
	}

	if _, err := m.Step(); err != nil { // RET
		t.Fatalf("ret: unexpected error: %v", err)
	}
	if m.Registers.PR != 2 {
		t.Fatalf("PR after RET = %#04x, want 2 (return address)", m.Registers.PR)
	}
	if m.Registers.SP != StackTop {
		t.Fatalf("SP = %#04x, want %#04x (stack balanced)", m.Registers.SP, StackTop)
	}
}

func TestStepRetAtStackTopHalts(t *testing.T) {
	m := newMachine([]uint16{0x8100}, 0) // RET, no prior CALL

	cont, err := m.Step()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cont {
		t.Fatalf("expected Step to report halted")
	}
	if !m.Halted {
		t.Fatalf("expected Halted = true")
	}
}

func TestStepDivaByZeroLeavesDestinationUnchanged(t *testing.T) {
	m := newMachine([]uint16{0x2D12}, 0) // DIVA GR1,GR2 (register form)
	m.Registers.GR[1] = 7
	m.Registers.GR[2] = 0

	if _, err := m.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Registers.GR[1] != 7 {
		t.Fatalf("GR1 = %d, want unchanged 7", m.Registers.GR[1])
	}
	if !m.Registers.FR.OF || !m.Registers.FR.ZF {
		t.Fatalf("FR = %+v, want OF and ZF set", m.Registers.FR)
	}
}

func TestStepIllegalInstruction(t *testing.T) {
	m := newMachine([]uint16{0xAB00}, 0)

	cont, err := m.Step()
	if cont {
		t.Fatalf("expected Step to report halted")
	}
	if _, ok := err.(*IllegalInstructionError); !ok {
		t.Fatalf("got %T, want *IllegalInstructionError", err)
	}
	if !m.Halted {
		t.Fatalf("expected Halted = true")
	}
}

func TestStepSLAPreservesSignBit(t *testing.T) {
	// SLA GR1,#0001: the shift count is the effective address itself,
	// never a memory dereference.
	m := newMachine([]uint16{0x5010, 1}, 0)
	m.Registers.GR[1] = 0x8001

	if _, err := m.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Registers.GR[1]&0x8000 == 0 {
		t.Fatalf("sign bit lost: GR1 = %#04x", m.Registers.GR[1])
	}
}

func TestStepSLAUsesEadrNotMemoryContents(t *testing.T) {
	// Regression test: the shift count must be eadr itself, not
	// mem[eadr]. Plant a decoy word at the effective address so a
	// dereferencing implementation would shift by the wrong amount.
	m := newMachine([]uint16{0x5010, 2, 99}, 0) // shift count operand = 2, decoy 99 at #0002
	m.Registers.GR[1] = 1

	if _, err := m.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Registers.GR[1] != 4 {
		t.Fatalf("GR1 = %d, want 4 (1 shifted left by 2)", m.Registers.GR[1])
	}
}

func TestStepLDRegisterForm(t *testing.T) {
	m := newMachine([]uint16{0x1412}, 0) // LD GR1,GR2 (register form)
	m.Registers.GR[2] = 0x1234

	if _, err := m.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Registers.GR[1] != 0x1234 {
		t.Fatalf("GR1 = %#04x, want %#04x", m.Registers.GR[1], 0x1234)
	}
	if m.Registers.PR != 1 {
		t.Fatalf("PR = %#04x, want 1 (register form is one word)", m.Registers.PR)
	}
}

func TestStepLDClearsOF(t *testing.T) {
	// A prior ADDA with signed overflow leaves OF set; LD must clear it.
	m := newMachine([]uint16{
		0x2412,    // ADDA GR1,GR2 (register form)
		0x1030, 0, // LD GR3,#0000
	}, 0)
	m.Registers.GR[1] = 32767
	m.Registers.GR[2] = 1

	if _, err := m.Step(); err != nil { // ADDA overflows, sets OF
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.Registers.FR.OF {
		t.Fatalf("expected OF set after signed overflow")
	}

	if _, err := m.Step(); err != nil { // LD must clear OF
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Registers.FR.OF {
		t.Fatalf("expected OF cleared by LD")
	}
}

func TestExecInTruncatesTo256Chars(t *testing.T) {
	m := newMachine([]uint16{
		0xF000, 0, // SVC #0000 -> eadr patched to SysIn below
	}, 0)
	m.Registers.GR[1] = 0x2000 // buffer address
	m.Registers.GR[2] = 0x3000 // length cell address
	m.Memory[1] = SysIn

	long := strings.Repeat("x", 300)
	m.Devices = &DeviceHandler{Keyboard: bufio.NewReader(strings.NewReader(long + "\n"))}

	if _, err := m.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := m.Memory[0x3000]; got != 256 {
		t.Fatalf("length cell = %d, want 256 (truncated)", got)
	}
	if m.Memory[0x2000+255] != uint16('x') {
		t.Fatalf("expected 256th byte written")
	}
}

func TestStepEadrIndexing(t *testing.T) {
	words := []uint16{0x1211, 0x0000} // LAD GR1,#0000,GR1 (xr=1 indexes by GR1 itself)
	m := newMachine(words, 0)
	m.Registers.GR[1] = 5

	if _, err := m.Step(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Registers.GR[1] != 5 {
		t.Fatalf("GR1 = %#04x, want 5 (0 + GR1's prior value of 5)", m.Registers.GR[1])
	}
}
