// SPDX-FileCopyrightText: 2024 dtn7-go contributors
//
// SPDX-License-Identifier: GPL-3.0-or-later

// Package wire implements Proton's stream framing: a single discriminator byte
// right after a stream was opened, followed by fixed-size little-endian uint32
// values exchanged in request/response order.
package wire

import (
	"encoding/binary"
	"io"
)

const (
	// RoleSize is the length of the stream discriminator in bytes.
	RoleSize = 1

	// ValueSize is the length of every payload after the discriminator.
	ValueSize = 4
)

// WriteRole sends the discriminator byte.
func WriteRole(w io.Writer, role byte) error {
	_, err := w.Write([]byte{role})
	return err
}

// ReadRole reads exactly one discriminator byte and nothing more.
func ReadRole(r io.Reader) (byte, error) {
	var buf [RoleSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return buf[0], nil
}

// Encode a value into its four byte wire representation.
func Encode(v uint32) (buf [ValueSize]byte) {
	binary.LittleEndian.PutUint32(buf[:], v)
	return
}

// Decode the four byte wire representation of a value.
func Decode(buf [ValueSize]byte) uint32 {
	return binary.LittleEndian.Uint32(buf[:])
}

// WriteUint32 writes a single little-endian value.
func WriteUint32(w io.Writer, v uint32) error {
	buf := Encode(v)
	_, err := w.Write(buf[:])
	return err
}

// ReadUint32 blocks until four bytes were read. A short read results in
// io.ErrUnexpectedEOF, an empty one in io.EOF.
func ReadUint32(r io.Reader) (uint32, error) {
	var buf [ValueSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return Decode(buf), nil
}
