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

// Package debugger holds the breakpoint/watchpoint bookkeeping and the
// vm.Hooks implementation that pauses a running machine into the REPL.
// The REPL's command handlers themselves live in cmd/comet2, mirroring
// the split between a thin package and a fat command-line front end.
package debugger

import (
	"bufio"
	"fmt"
	"os"

	"github.com/chriskeane/casl2go/pkg/symtab"
	"github.com/chriskeane/casl2go/pkg/vm"
)

// WatchType distinguishes a read watchpoint from a write watchpoint.
type WatchType int

const (
	ReadWatch WatchType = iota
	WriteWatch
)

// Breakpoint stops execution when PR reaches Addr.
type Breakpoint struct {
	Addr uint16
}

// Watchpoint stops execution on a read or write to Addr.
type Watchpoint struct {
	Addr uint16
	Type WatchType
}

// Debugger is the REPL's persistent state: breakpoints, watchpoints, the
// symbol table (if a .sym side-car was loaded) and the source file it
// points at, plus the three callbacks cmd/comet2 wires up to drop into
// its REPL loop.
type Debugger struct {
	Break       bool
	Breakpoints []Breakpoint
	Watchpoints []Watchpoint

	Source   *os.File
	Binary   *os.File
	SymTable *symtab.SymTable

	HandleBreak func(mc *vm.Machine)
	HandleRead  func(addr uint16, mc *vm.Machine)
	HandleWrite func(addr uint16, mc *vm.Machine)
}

var _ vm.Hooks = (*Debugger)(nil)

// Step implements vm.Hooks: it stops the machine when PR matches a
// breakpoint, or when Break was set asynchronously (Ctrl-C).
func (dbg *Debugger) Step(mc *vm.Machine) {
	if dbg.Break {
		dbg.Break = false
		if dbg.HandleBreak != nil {
			dbg.HandleBreak(mc)
		}
		return
	}

	for _, bp := range dbg.Breakpoints {
		if mc.Registers.PR == bp.Addr {
			if dbg.HandleBreak != nil {
				dbg.HandleBreak(mc)
			}
			return
		}
	}
}

// Read implements vm.Hooks: it stops the machine on a matching read
// watchpoint.
func (dbg *Debugger) Read(mc *vm.Machine, addr uint16) {
	for _, wp := range dbg.Watchpoints {
		if wp.Type != WriteWatch && wp.Addr == addr {
			if dbg.HandleRead != nil {
				dbg.HandleRead(addr, mc)
			}
			return
		}
	}
}

// Write implements vm.Hooks: it stops the machine on a matching write
// watchpoint.
func (dbg *Debugger) Write(mc *vm.Machine, addr uint16) {
	for _, wp := range dbg.Watchpoints {
		if wp.Type != ReadWatch && wp.Addr == addr {
			if dbg.HandleWrite != nil {
				dbg.HandleWrite(addr, mc)
			}
			return
		}
	}
}

// AddBreakpoint appends a new breakpoint, ignoring an exact duplicate.
func (dbg *Debugger) AddBreakpoint(addr uint16) {
	for _, bp := range dbg.Breakpoints {
		if bp.Addr == addr {
			return
		}
	}
	dbg.Breakpoints = append(dbg.Breakpoints, Breakpoint{Addr: addr})
}

// DeleteBreakpoint removes the breakpoint at addr, if any.
func (dbg *Debugger) DeleteBreakpoint(addr uint16) {
	out := dbg.Breakpoints[:0]
	for _, bp := range dbg.Breakpoints {
		if bp.Addr != addr {
			out = append(out, bp)
		}
	}
	dbg.Breakpoints = out
}

// AddWatchpoint appends a new watchpoint, ignoring an exact duplicate.
func (dbg *Debugger) AddWatchpoint(addr uint16, typ WatchType) {
	for _, wp := range dbg.Watchpoints {
		if wp.Addr == addr && wp.Type == typ {
			return
		}
	}
	dbg.Watchpoints = append(dbg.Watchpoints, Watchpoint{Addr: addr, Type: typ})
}

// DeleteWatchpoint removes the watchpoint at addr, if any.
func (dbg *Debugger) DeleteWatchpoint(addr uint16) {
	out := dbg.Watchpoints[:0]
	for _, wp := range dbg.Watchpoints {
		if wp.Addr != addr {
			out = append(out, wp)
		}
	}
	dbg.Watchpoints = out
}

// PrintSource prints count lines of source starting at the file/line
// recorded for addr in SymTable, annotating the line holding addr itself
// when one exists.
func (dbg *Debugger) PrintSource(addr uint16, count uint16) {
	if dbg.Source == nil {
		fmt.Println("No source file loaded")
		return
	}

	if dbg.SymTable == nil {
		fmt.Println("No symbol table loaded")
		return
	}

	line, ok := dbg.SymTable.LineForAddr(addr)
	if !ok {
		fmt.Printf("No instruction found at #%04X\n", addr)
		return
	}

	if _, err := dbg.Source.Seek(0, os.SEEK_SET); err != nil {
		fmt.Println(err)
		return
	}

	scanner := bufio.NewScanner(dbg.Source)
	scanner.Split(bufio.ScanLines)

	lineno := 0
	for scanner.Scan() {
		lineno++
		if lineno < line {
			continue
		}
		if lineno >= line+int(count) {
			break
		}

		if lineno == line {
			fmt.Printf("\033[1m[#%04X]\033[0m ", addr)
		} else {
			fmt.Print("\033[1;30m~~~~~~~~\033[0m ")
		}

		fmt.Println(scanner.Text())
	}

	if err := scanner.Err(); err != nil {
		fmt.Println(err)
	}
}

// PrintMem hex-dumps rows rows of 8 words each of mc.Memory starting at
// addr, dimming zero words the way the teacher's debugger dims
// untouched memory, with a trailing ASCII column per row (low byte of
// each word; anything outside the printable range renders as '.').
func (dbg *Debugger) PrintMem(mc *vm.Machine, addr, rows uint16) {
	for row := uint16(0); row < rows; row++ {
		rowAddr := addr + row*8
		fmt.Printf("\033[1m[#%04X]\033[0m ", rowAddr)

		var ascii [8]byte
		for col := uint16(0); col < 8; col++ {
			word := mc.Memory[rowAddr+col]

			if word == 0 {
				fmt.Printf("\033[1;30m#%04X\033[0m ", word)
			} else {
				fmt.Printf("#%04X ", word)
			}

			c := byte(word)
			if c < 0x20 || c > 0x7F {
				c = '.'
			}
			ascii[col] = c
		}

		fmt.Printf(" %s\n", ascii[:])
	}
}
