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

// Package objfile reads and writes the assembled object file format: a
// 16-byte header followed by one big-endian word per memory cell starting
// at address 0.
package objfile

import (
	"encoding/binary"
	"errors"
	"io"
)

// Magic is the 4-byte header tag identifying a CASL II object file.
const Magic = "CASL"

// HeaderSize is the total size in bytes of the fixed header.
const HeaderSize = 16

// ErrBadMagic is returned by Load when the file does not begin with Magic.
var ErrBadMagic = errors.New("not a CASL object file")

// ErrTruncated is returned by Load when the header is shorter than
// HeaderSize.
var ErrTruncated = errors.New("truncated object file header")

// Write emits the header (magic, entry point, 10 zero padding bytes)
// followed by words[0], words[1], ... as big-endian uint16s.
func Write(w io.Writer, entry uint16, words []uint16) error {
	var header [HeaderSize]byte
	copy(header[0:4], Magic)
	binary.BigEndian.PutUint16(header[4:6], entry)

	if _, err := w.Write(header[:]); err != nil {
		return err
	}

	for _, word := range words {
		if err := binary.Write(w, binary.BigEndian, word); err != nil {
			return err
		}
	}

	return nil
}

// Load reads a header and all following words, returning the memory image
// starting at address 0 and the entry point.
func Load(r io.Reader) (words []uint16, entry uint16, err error) {
	var header [HeaderSize]byte

	n, err := io.ReadFull(r, header[:])
	if err != nil {
		if n < HeaderSize {
			return nil, 0, ErrTruncated
		}
		return nil, 0, err
	}

	if string(header[0:4]) != Magic {
		return nil, 0, ErrBadMagic
	}

	entry = binary.BigEndian.Uint16(header[4:6])

	for {
		var word uint16
		if err := binary.Read(r, binary.BigEndian, &word); err != nil {
			if err == io.EOF {
				break
			}
			return nil, 0, err
		}
		words = append(words, word)
	}

	return words, entry, nil
}
