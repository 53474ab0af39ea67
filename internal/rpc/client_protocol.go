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

package rpc

import (
	"encoding/binary"
	"fmt"
)

// ClientOp identifies the operation carried by a MsgClientRequest payload.
// There is exactly one client request message type on the wire; Op is the
// first byte of its payload, not a separate message type.
type ClientOp uint8

const (
	OpGet ClientOp = 0x01
	OpSet ClientOp = 0x02
	OpDelete ClientOp = 0x03
	OpCas ClientOp = 0x04
	OpList ClientOp = 0x05
)

func (o ClientOp) String() string {
	switch o {
	case OpGet:
		return "Get"
	case OpSet:
		return "Set"
	case OpDelete:
		return "Delete"
	case OpCas:
		return "Cas"
	case OpList:
		return "List"
	default:
		return fmt.Sprintf("ClientOp(0x%02x)", uint8(o))
	}
}

// ClientStatus is the first byte of every MsgClientResponse payload. Only
// StatusOk carries a per-op body after it; every other status is a bare
// byte with nothing following.
type ClientStatus uint8

const (
	StatusOk            ClientStatus = 0x00
	StatusNotLeader     ClientStatus = 0x01
	StatusKeyNotFound   ClientStatus = 0x02
	StatusCasFailed     ClientStatus = 0x03
	StatusTimeout       ClientStatus = 0x04
	StatusInternalError ClientStatus = 0xFF
)

func (s ClientStatus) String() string {
	switch s {
	case StatusOk:
		return "Ok"
	case StatusNotLeader:
		return "NotLeader"
	case StatusKeyNotFound:
		return "KeyNotFound"
	case StatusCasFailed:
		return "CasFailed"
	case StatusTimeout:
		return "Timeout"
	case StatusInternalError:
		return "InternalError"
	default:
		return fmt.Sprintf("ClientStatus(0x%02x)", uint8(s))
	}
}

// ClientRequest is the single MsgClientRequest payload: {op:u8}{data}. Data
// is op-specific and, for Set/Delete/Cas, is the already-encoded
// internal/kv command payload (EncodeSet/EncodeDelete/EncodeCas); rpc does
// not interpret it beyond the op byte.
type ClientRequest struct {
	Op   ClientOp
	Data []byte
}

func EncodeClientRequest(r ClientRequest) []byte {
	buf := make([]byte, 1+len(r.Data))
	buf[0] = byte(r.Op)
	copy(buf[1:], r.Data)
	return buf
}

func DecodeClientRequest(buf []byte) (ClientRequest, error) {
	if len(buf) < 1 {
		return ClientRequest{}, fmt.Errorf("rpc: truncated ClientRequest")
	}
	return ClientRequest{Op: ClientOp(buf[0]), Data: append([]byte(nil), buf[1:]...)}, nil
}

// ClientResponse is the single MsgClientResponse payload: {status:u8}{data}.
// Data is empty for every status except StatusOk, whose shape depends on
// the request's Op.
type ClientResponse struct {
	Status ClientStatus
	Data   []byte
}

func EncodeClientResponse(r ClientResponse) []byte {
	buf := make([]byte, 1+len(r.Data))
	buf[0] = byte(r.Status)
	copy(buf[1:], r.Data)
	return buf
}

func DecodeClientResponse(buf []byte) (ClientResponse, error) {
	if len(buf) < 1 {
		return ClientResponse{}, fmt.Errorf("rpc: truncated ClientResponse")
	}
	return ClientResponse{Status: ClientStatus(buf[0]), Data: append([]byte(nil), buf[1:]...)}, nil
}

// --- Get/Delete request bodies: {key_len:u32}{key} ---

// EncodeKeyRequestData encodes the Get and Delete request body, which share
// the same {key_len:u32}{key} shape.
func EncodeKeyRequestData(key []byte) []byte {
	buf := make([]byte, 4+len(key))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(key)))
	copy(buf[4:], key)
	return buf
}

func DecodeKeyRequestData(buf []byte) ([]byte, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("rpc: truncated key request")
	}
	keyLen := binary.LittleEndian.Uint32(buf[0:4])
	if uint32(len(buf)) < 4+keyLen {
		return nil, fmt.Errorf("rpc: truncated key request body")
	}
	return append([]byte(nil), buf[4:4+keyLen]...), nil
}

// --- Get response body (StatusOk only): {val_len:u32}{version:u64}{value} ---

func EncodeGetResponseData(value []byte, version uint64) []byte {
	buf := make([]byte, 12+len(value))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(value)))
	binary.LittleEndian.PutUint64(buf[4:12], version)
	copy(buf[12:], value)
	return buf
}

func DecodeGetResponseData(buf []byte) ([]byte, uint64, error) {
	if len(buf) < 12 {
		return nil, 0, fmt.Errorf("rpc: truncated Get response")
	}
	valLen := binary.LittleEndian.Uint32(buf[0:4])
	version := binary.LittleEndian.Uint64(buf[4:12])
	if uint32(len(buf)) < 12+valLen {
		return nil, 0, fmt.Errorf("rpc: truncated Get response value")
	}
	value := append([]byte(nil), buf[12:12+valLen]...)
	return value, version, nil
}

// --- Set response body (StatusOk only): {version:u64} ---

func EncodeSetResponseData(version uint64) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, version)
	return buf
}

func DecodeSetResponseData(buf []byte) (uint64, error) {
	if len(buf) < 8 {
		return 0, fmt.Errorf("rpc: truncated Set response")
	}
	return binary.LittleEndian.Uint64(buf[0:8]), nil
}

// --- Delete response body (StatusOk only): {deleted_flag:u8} ---

func EncodeDeleteResponseData(deleted bool) []byte {
	if deleted {
		return []byte{1}
	}
	return []byte{0}
}

func DecodeDeleteResponseData(buf []byte) (bool, error) {
	if len(buf) < 1 {
		return false, fmt.Errorf("rpc: truncated Delete response")
	}
	return buf[0] != 0, nil
}

// --- Cas response body (StatusOk only): {success_flag:u8}{new_version:u64} ---
// StatusCasFailed carries no body: a failed compare is reported purely by
// status, not by a success_flag of 0 in an Ok-shaped body.

func EncodeCasResponseData(newVersion uint64) []byte {
	buf := make([]byte, 9)
	buf[0] = 1
	binary.LittleEndian.PutUint64(buf[1:9], newVersion)
	return buf
}

func DecodeCasResponseData(buf []byte) (uint64, error) {
	if len(buf) < 9 {
		return 0, fmt.Errorf("rpc: truncated Cas response")
	}
	return binary.LittleEndian.Uint64(buf[1:9]), nil
}

// --- List request body: {prefix_len:u32}{prefix}{limit:u32} ---

func EncodeListRequestData(prefix string, limit int) []byte {
	buf := make([]byte, 0, 8+len(prefix))
	var head [4]byte
	binary.LittleEndian.PutUint32(head[:], uint32(len(prefix)))
	buf = append(buf, head[:]...)
	buf = append(buf, []byte(prefix)...)
	var limitBuf [4]byte
	binary.LittleEndian.PutUint32(limitBuf[:], uint32(limit))
	buf = append(buf, limitBuf[:]...)
	return buf
}

func DecodeListRequestData(buf []byte) (string, int, error) {
	if len(buf) < 4 {
		return "", 0, fmt.Errorf("rpc: truncated List request")
	}
	prefixLen := binary.LittleEndian.Uint32(buf[0:4])
	if uint32(len(buf)) < 4+prefixLen+4 {
		return "", 0, fmt.Errorf("rpc: truncated List request body")
	}
	prefix := string(buf[4 : 4+prefixLen])
	limit := binary.LittleEndian.Uint32(buf[4+prefixLen : 4+prefixLen+4])
	return prefix, int(limit), nil
}

// --- List response body (StatusOk only): {count:u32}{key_len:u32,key}... ---

func EncodeListResponseData(keys []string) []byte {
	buf := make([]byte, 0, 4+len(keys)*8)
	var count [4]byte
	binary.LittleEndian.PutUint32(count[:], uint32(len(keys)))
	buf = append(buf, count[:]...)
	for _, k := range keys {
		var klen [4]byte
		binary.LittleEndian.PutUint32(klen[:], uint32(len(k)))
		buf = append(buf, klen[:]...)
		buf = append(buf, []byte(k)...)
	}
	return buf
}

func DecodeListResponseData(buf []byte) ([]string, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("rpc: truncated List response")
	}
	count := binary.LittleEndian.Uint32(buf[0:4])
	rest := buf[4:]
	keys := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(rest) < 4 {
			return nil, fmt.Errorf("rpc: truncated List response key length")
		}
		klen := binary.LittleEndian.Uint32(rest[0:4])
		rest = rest[4:]
		if uint32(len(rest)) < klen {
			return nil, fmt.Errorf("rpc: truncated List response key data")
		}
		keys = append(keys, string(rest[:klen]))
		rest = rest[klen:]
	}
	return keys, nil
}

// The types below are Go-level, not wire-level: ClientHandler speaks them,
// and the server's dispatch in server.go is what translates between them
// and the single ClientRequest/ClientResponse frame payload above.

// ClientGetRequest asks the node addressed to read a single key.
type ClientGetRequest struct {
	Key []byte
}

// ClientGetReply carries the outcome of a Get: Status is StatusOk with
// Value/Version populated, StatusKeyNotFound, or StatusNotLeader.
type ClientGetReply struct {
	Status  ClientStatus
	Value   []byte
	Version uint64
}

// ClientMutateRequest carries a Set, Delete or Cas command destined for
// the leader's raft log. Data is the already-encoded internal/kv command
// payload (EncodeSet/EncodeDelete/EncodeCas); rpc does not interpret it.
type ClientMutateRequest struct {
	Op   ClientOp
	Data []byte
}

// ClientMutateReply reports the outcome of a mutate request once its log
// entry has committed (or why it could not be submitted at all). Version
// is the new version on a successful Set/Cas; Deleted reports whether
// Delete actually removed a key.
type ClientMutateReply struct {
	Status  ClientStatus
	Version uint64
	Deleted bool
}

// ClientListRequest asks for the set of keys sharing Prefix, capped at Limit.
type ClientListRequest struct {
	Prefix string
	Limit  int
}

// ClientListReply carries the matching keys, or a NotLeader status.
type ClientListReply struct {
	Status ClientStatus
	Keys   []string
}
