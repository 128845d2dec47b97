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

package main

import (
	"bufio"
	"encoding/gob"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/chriskeane/casl2go/pkg/debugger"
	"github.com/chriskeane/casl2go/pkg/objfile"
	"github.com/chriskeane/casl2go/pkg/symtab"
	"github.com/chriskeane/casl2go/pkg/vm"
)

var helpvar bool
var qvar bool
var Qvar bool
var versionvar bool

const usage = "comet2 [-q] [-Q] [-v] [file]"
const version = "casl2go 0.1"

func init() {
	exe, _ := os.Executable()
	log.SetFlags(0)
	log.SetPrefix(fmt.Sprintf("%s: ", filepath.Base(exe)))
	log.SetOutput(os.Stderr)
}

func init() {
	flag.BoolVar(&helpvar, "help", false, "Displays command usage")
	flag.BoolVar(&qvar, "q", false, "Suppresses the startup banner and runs without a REPL")
	flag.BoolVar(&Qvar, "Q", false, "Like -q, and also suppresses the IN/OUT prompts")
	flag.BoolVar(&versionvar, "v", false, "Prints the version and exits")
	flag.Parse()
}

// loadObjectFile opens path, loads its image into mc, and (best effort)
// loads the matching .sym side-car and the source file it names so the
// REPL's file/list commands have something to show.
func loadObjectFile(mc *vm.Machine, dbg *debugger.Debugger, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}

	words, entry, err := objfile.Load(file)
	if err != nil {
		file.Close()
		return err
	}

	mc.Reset()
	mc.Load(words, entry)

	if dbg.Binary != nil {
		dbg.Binary.Close()
	}
	dbg.Binary = file

	dbg.SymTable = nil

	symPath := filepath.Dir(path) + "/" + strings.ReplaceAll(
		filepath.Base(path), filepath.Ext(path), ".sym",
	)

	if symFile, err := os.Open(symPath); err == nil {
		var st symtab.SymTable
		if err := gob.NewDecoder(symFile).Decode(&st); err == nil {
			dbg.SymTable = &st
		} else {
			log.Println("Error loading symbol file")
			log.Println(err)
		}
		symFile.Close()
	}

	if dbg.Source != nil {
		dbg.Source.Close()
		dbg.Source = nil
	}

	if dbg.SymTable != nil && dbg.SymTable.Source != "" {
		if srcFile, err := os.Open(dbg.SymTable.Source); err == nil {
			dbg.Source = srcFile
		} else {
			log.Println("Error loading source file")
			log.Println(err)
		}
	}

	return nil
}

func comet2() int {
	if helpvar {
		fmt.Println(usage)
		return 0
	}

	if versionvar {
		fmt.Println(version)
		return 0
	}

	args := flag.Args()
	if len(args) > 1 {
		log.Println(usage)
		return 1
	}

	quiet := qvar || Qvar
	if quiet && len(args) != 1 {
		log.Println(usage)
		return 1
	}

	var mc vm.Machine
	mc.Reset()

	var dh vm.DeviceHandler
	dh.Keyboard = bufio.NewReader(os.Stdin)
	dh.Display = bufio.NewWriter(os.Stdout)
	dh.Prompts = !Qvar
	mc.Devices = &dh

	var dbg debugger.Debugger
	dbg.HandleBreak = handleBreak
	dbg.HandleRead = handleRead
	dbg.HandleWrite = handleWrite
	mc.Hooks = &dbg
	globalDebugger = &dbg

	if len(args) == 1 {
		if err := loadObjectFile(&mc, &dbg, args[0]); err != nil {
			log.Println(err)
			return 1
		}
	}
	if dbg.Source != nil {
		defer dbg.Source.Close()
	}
	if dbg.Binary != nil {
		defer dbg.Binary.Close()
	}

	c := make(chan os.Signal, 1)
	defer close(c)

	signal.Notify(c, os.Interrupt)
	go func() {
		for range c {
			fmt.Println()
			dbg.Break = true
		}
	}()

	if !quiet {
		fmt.Println("comet2 - a COMET II simulator")
	}

	enterRawTerm()
	defer exitRawTerm()

	if !quiet {
		debugREPL(globalDebugger, &mc)
		return 0
	}

	for !mc.Halted {
		if _, err := mc.Step(); err != nil {
			log.Println(err)
			break
		}
	}

	return 0
}

func main() {
	os.Exit(comet2())
}
