/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Command Encoding
================

Commands are the payloads stored in a raft LogEntry's data field. All
integers are little-endian. Three commands are encoded here:

  Set:    u32 key_len, key, u32 val_len, value, u8 has_ttl, u64 ttl_ms
  Delete: u32 key_len, key
  Cas:    u32 key_len, key, u64 expected_version, u32 val_len, new_value,
          u8 has_ttl, u64 ttl_ms
*/
package kv

import (
	"encoding/binary"
	"fmt"
)

// CommandType identifies the kind of command carried by a LogEntry.
type CommandType uint8

const (
	CommandNoop CommandType = iota
	CommandSet
	CommandDelete
	CommandCas
	CommandConfigChange
)

// SetCommand is the decoded form of a Set operation.
type SetCommand struct {
	Key    []byte
	Value  []byte
	HasTTL bool
	TTLMs  uint64
}

// DeleteCommand is the decoded form of a Delete operation.
type DeleteCommand struct {
	Key []byte
}

// CasCommand is the decoded form of a compare-and-swap operation.
type CasCommand struct {
	Key             []byte
	ExpectedVersion uint64
	NewValue        []byte
	HasTTL          bool
	TTLMs           uint64
}

// EncodeSet encodes a SetCommand into LogEntry.data form.
func EncodeSet(c SetCommand) []byte {
	buf := make([]byte, 0, 4+len(c.Key)+4+len(c.Value)+1+8)
	buf = appendU32(buf, uint32(len(c.Key)))
	buf = append(buf, c.Key...)
	buf = appendU32(buf, uint32(len(c.Value)))
	buf = append(buf, c.Value...)
	buf = append(buf, boolByte(c.HasTTL))
	buf = appendU64(buf, c.TTLMs)
	return buf
}

// DecodeSet decodes a Set command payload.
func DecodeSet(data []byte) (SetCommand, error) {
	var c SetCommand
	r := newReader(data)
	keyLen, err := r.u32()
	if err != nil {
		return c, err
	}
	key, err := r.bytes(int(keyLen))
	if err != nil {
		return c, err
	}
	valLen, err := r.u32()
	if err != nil {
		return c, err
	}
	val, err := r.bytes(int(valLen))
	if err != nil {
		return c, err
	}
	hasTTL, err := r.u8()
	if err != nil {
		return c, err
	}
	ttl, err := r.u64()
	if err != nil {
		return c, err
	}
	c.Key = key
	c.Value = val
	c.HasTTL = hasTTL != 0
	c.TTLMs = ttl
	return c, nil
}

// EncodeDelete encodes a DeleteCommand.
func EncodeDelete(c DeleteCommand) []byte {
	buf := make([]byte, 0, 4+len(c.Key))
	buf = appendU32(buf, uint32(len(c.Key)))
	buf = append(buf, c.Key...)
	return buf
}

// DecodeDelete decodes a Delete command payload.
func DecodeDelete(data []byte) (DeleteCommand, error) {
	var c DeleteCommand
	r := newReader(data)
	keyLen, err := r.u32()
	if err != nil {
		return c, err
	}
	key, err := r.bytes(int(keyLen))
	if err != nil {
		return c, err
	}
	c.Key = key
	return c, nil
}

// EncodeCas encodes a CasCommand.
func EncodeCas(c CasCommand) []byte {
	buf := make([]byte, 0, 4+len(c.Key)+8+4+len(c.NewValue)+1+8)
	buf = appendU32(buf, uint32(len(c.Key)))
	buf = append(buf, c.Key...)
	buf = appendU64(buf, c.ExpectedVersion)
	buf = appendU32(buf, uint32(len(c.NewValue)))
	buf = append(buf, c.NewValue...)
	buf = append(buf, boolByte(c.HasTTL))
	buf = appendU64(buf, c.TTLMs)
	return buf
}

// DecodeCas decodes a Cas command payload.
func DecodeCas(data []byte) (CasCommand, error) {
	var c CasCommand
	r := newReader(data)
	keyLen, err := r.u32()
	if err != nil {
		return c, err
	}
	key, err := r.bytes(int(keyLen))
	if err != nil {
		return c, err
	}
	expected, err := r.u64()
	if err != nil {
		return c, err
	}
	valLen, err := r.u32()
	if err != nil {
		return c, err
	}
	val, err := r.bytes(int(valLen))
	if err != nil {
		return c, err
	}
	hasTTL, err := r.u8()
	if err != nil {
		return c, err
	}
	ttl, err := r.u64()
	if err != nil {
		return c, err
	}
	c.Key = key
	c.ExpectedVersion = expected
	c.NewValue = val
	c.HasTTL = hasTTL != 0
	c.TTLMs = ttl
	return c, nil
}

func appendU32(buf []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(buf, tmp[:]...)
}

func appendU64(buf []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(buf, tmp[:]...)
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// reader is a small cursor over a byte slice used by the decoders above.
type reader struct {
	data []byte
	pos  int
}

func newReader(data []byte) *reader { return &reader{data: data} }

func (r *reader) u8() (byte, error) {
	if r.pos+1 > len(r.data) {
		return 0, fmt.Errorf("kv: truncated command payload reading u8")
	}
	v := r.data[r.pos]
	r.pos++
	return v, nil
}

func (r *reader) u32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("kv: truncated command payload reading u32")
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *reader) u64() (uint64, error) {
	if r.pos+8 > len(r.data) {
		return 0, fmt.Errorf("kv: truncated command payload reading u64")
	}
	v := binary.LittleEndian.Uint64(r.data[r.pos : r.pos+8])
	r.pos += 8
	return v, nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.data) {
		return nil, fmt.Errorf("kv: truncated command payload reading %d bytes", n)
	}
	out := make([]byte, n)
	copy(out, r.data[r.pos:r.pos+n])
	r.pos += n
	return out, nil
}
