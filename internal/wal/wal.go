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
Write-Ahead Log
===============

Package wal durably persists raft's persistent state: log entries, votes
and term updates. A WAL is a directory of segment files named
wal-XXXXXXXX.log (8 hex digits, ascending). Each segment begins with a
14-byte header:

	magic:u8[4]="DKWL"  version:u16 LE  node_id:u64 LE

followed by a sequence of records:

	type:u8  length:u32 LE  crc32:u32 LE  data[length]

crc32 covers data only (IEEE 802.3 polynomial, the same one
hash/crc32.IEEETable already implements). A segment rotates to a new file
once appending the next record would exceed maxSegmentBytes; only the
active (last) segment is ever written, older segments are immutable.

Every record whose visible effect depends on durability is followed by an
fsync before the caller is told it succeeded: a vote before the
RequestVote reply is sent, a log entry before it is acknowledged to the
leader, a term update before an RPC advertising it goes out.
*/
package wal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/golang/snappy"

	kverrors "github.com/firefly-oss/kvraftd/internal/errors"
	"github.com/firefly-oss/kvraftd/internal/logging"
)

const (
	segmentMagic   = "DKWL"
	segmentVersion = uint16(1)
	segmentHeaderSize = 4 + 2 + 8 // magic + version + node_id

	maxSegmentBytes = 64 * 1024 * 1024 // 64 MiB

	// compressedFlag is OR'd into the record type byte on disk when the
	// record's data is snappy-compressed. It never appears on the RPC wire
	// format; it is purely a local WAL-file optimization.
	compressedFlag = byte(0x80)
	typeMask       = byte(0x7F)
)

// RecordType identifies what a WAL record represents.
type RecordType byte

const (
	RecordLogEntry      RecordType = 0x01
	RecordVote          RecordType = 0x02
	RecordSnapshotMarker RecordType = 0x03
	RecordTermUpdate    RecordType = 0x04
)

// compressMinBytes is the smallest payload size snappy compression is
// attempted for; tiny votes/term updates are never worth compressing.
const compressMinBytes = 256

// RecoveredState is produced by Recover() by replaying every segment.
type RecoveredState struct {
	CurrentTerm uint64
	VotedFor    uint64
	HasVote     bool
	Entries     [][]byte // raw encoded LogEntry payloads, in append order
}

// WAL is a segmented, checksum-protected append-only log.
type WAL struct {
	mu       sync.Mutex
	dir      string
	nodeID   uint64
	log      *logging.Logger
	compress bool

	active       *os.File
	activeWriter *bufio.Writer
	segmentIndex uint32
	segmentSize  int64
}

// Open opens (creating if necessary) a WAL rooted at dir for the given
// node id. If segments already exist their node_id must match.
func Open(dir string, nodeID uint64) (*WAL, error) {
	return OpenWithCompression(dir, nodeID, false)
}

// OpenWithCompression is like Open but additionally enables optional
// snappy compression of record payloads above compressMinBytes.
func OpenWithCompression(dir string, nodeID uint64, compress bool) (*WAL, error) {
	log := logging.NewLogger("wal").With("node_id", nodeID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, kverrors.WALIOFailure("mkdir "+dir, err)
	}

	w := &WAL{dir: dir, nodeID: nodeID, log: log, compress: compress}

	segments, err := listSegments(dir)
	if err != nil {
		return nil, kverrors.WALIOFailure("listing segments", err)
	}

	if len(segments) == 0 {
		if err := w.rotate(0); err != nil {
			return nil, err
		}
		return w, nil
	}

	for _, idx := range segments {
		hf, err := os.Open(filepath.Join(dir, segmentName(idx)))
		if err != nil {
			return nil, kverrors.WALIOFailure("opening segment "+segmentName(idx), err)
		}
		header := make([]byte, segmentHeaderSize)
		_, err = io.ReadFull(hf, header)
		hf.Close()
		if err != nil || binary.LittleEndian.Uint64(header[6:14]) != nodeID {
			return nil, kverrors.WALCorruption("segment header truncated or node_id mismatch: " + segmentName(idx))
		}
	}

	last := segments[len(segments)-1]
	f, err := os.OpenFile(filepath.Join(dir, segmentName(last)), os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, kverrors.WALIOFailure("opening active segment", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, kverrors.WALIOFailure("stat active segment", err)
	}
	w.active = f
	w.activeWriter = bufio.NewWriter(f)
	w.segmentIndex = last
	w.segmentSize = info.Size()
	return w, nil
}

func segmentName(index uint32) string {
	return fmt.Sprintf("wal-%08x.log", index)
}

func listSegments(dir string) ([]uint32, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []uint32
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, "wal-") || !strings.HasSuffix(name, ".log") {
			continue
		}
		hexPart := strings.TrimSuffix(strings.TrimPrefix(name, "wal-"), ".log")
		n, err := strconv.ParseUint(hexPart, 16, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (w *WAL) rotate(index uint32) error {
	if w.active != nil {
		if err := w.activeWriter.Flush(); err != nil {
			return kverrors.WALIOFailure("flushing previous segment", err)
		}
		w.active.Close()
	}

	path := filepath.Join(w.dir, segmentName(index))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return kverrors.WALIOFailure("creating segment "+path, err)
	}

	header := make([]byte, segmentHeaderSize)
	copy(header[0:4], segmentMagic)
	binary.LittleEndian.PutUint16(header[4:6], segmentVersion)
	binary.LittleEndian.PutUint64(header[6:14], w.nodeID)
	if _, err := f.Write(header); err != nil {
		f.Close()
		return kverrors.WALIOFailure("writing segment header", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return kverrors.WALIOFailure("syncing new segment", err)
	}

	w.active = f
	w.activeWriter = bufio.NewWriter(f)
	w.segmentIndex = index
	w.segmentSize = int64(segmentHeaderSize)
	w.log.Debug("rotated segment", "index", index)
	return nil
}

// writeRecord appends a single record to the active segment, rotating
// first if it would not fit. It does not sync; callers decide when
// durability is required via Sync().
func (w *WAL) writeRecord(rtype RecordType, data []byte) error {
	typeByte := byte(rtype)
	encoded := data
	if w.compress && len(data) >= compressMinBytes {
		encoded = snappy.Encode(nil, data)
		typeByte |= compressedFlag
	}

	recordSize := int64(1 + 4 + 4 + len(encoded))
	if w.segmentSize+recordSize > maxSegmentBytes {
		if err := w.rotate(w.segmentIndex + 1); err != nil {
			return err
		}
	}

	sum := crc32.ChecksumIEEE(encoded)

	buf := make([]byte, 1+4+4)
	buf[0] = typeByte
	binary.LittleEndian.PutUint32(buf[1:5], uint32(len(encoded)))
	binary.LittleEndian.PutUint32(buf[5:9], sum)

	if _, err := w.activeWriter.Write(buf); err != nil {
		return kverrors.WALIOFailure("writing record header", err)
	}
	if _, err := w.activeWriter.Write(encoded); err != nil {
		return kverrors.WALIOFailure("writing record data", err)
	}
	w.segmentSize += recordSize
	return nil
}

// AppendLogEntry writes a LogEntry record. The caller must call Sync()
// before acknowledging the entry to the leader.
func (w *WAL) AppendLogEntry(encodedEntry []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeRecord(RecordLogEntry, encodedEntry)
}

// AppendVote writes a 16-byte {term, voted_for} record. The caller must
// call Sync() before replying to the RequestVote RPC.
func (w *WAL) AppendVote(term, votedFor uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint64(buf[0:8], term)
	binary.LittleEndian.PutUint64(buf[8:16], votedFor)
	return w.writeRecord(RecordVote, buf)
}

// AppendTerm writes an 8-byte term record; on replay this resets
// voted_for to none. The caller must call Sync() before sending an RPC
// that advertises the new term.
func (w *WAL) AppendTerm(term uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, term)
	return w.writeRecord(RecordTermUpdate, buf)
}

// Sync forces all buffered writes to stable storage.
func (w *WAL) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.activeWriter.Flush(); err != nil {
		return kverrors.WALIOFailure("flushing wal", err)
	}
	if err := w.active.Sync(); err != nil {
		return kverrors.WALIOFailure("fsync wal", err)
	}
	return nil
}

// Close flushes and closes the active segment.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active == nil {
		return nil
	}
	if err := w.activeWriter.Flush(); err != nil {
		return kverrors.WALIOFailure("flushing wal on close", err)
	}
	return w.active.Close()
}

// Recover replays every segment in dir in order and reconstructs raft's
// persistent state. A missing directory or a directory with no segments
// yields the zero state. Checksum failure or truncation on the physical
// last record of the last segment — the one with nothing readable after
// it anywhere in the WAL — is treated as tail corruption from an unclean
// shutdown and recovery stops there; the same failure on any record that
// valid data follows is fatal, even inside the last segment.
func Recover(dir string) (*RecoveredState, error) {
	segments, err := listSegments(dir)
	if err != nil {
		return nil, kverrors.WALIOFailure("listing segments", err)
	}
	state := &RecoveredState{}
	if len(segments) == 0 {
		return state, nil
	}

	for i, idx := range segments {
		isLastSegment := i == len(segments)-1
		if err := recoverSegment(filepath.Join(dir, segmentName(idx)), isLastSegment, state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

func recoverSegment(path string, isLastSegment bool, state *RecoveredState) error {
	f, err := os.Open(path)
	if err != nil {
		return kverrors.WALIOFailure("opening segment "+path, err)
	}
	defer f.Close()

	header := make([]byte, segmentHeaderSize)
	if _, err := io.ReadFull(f, header); err != nil {
		return kverrors.WALCorruption("segment header truncated: " + path)
	}
	if string(header[0:4]) != segmentMagic {
		return kverrors.WALCorruption("bad segment magic: " + path)
	}

	r := bufio.NewReader(f)
	for {
		recHeader := make([]byte, 9)
		n, err := io.ReadFull(r, recHeader)
		if err == io.EOF && n == 0 {
			return nil // clean end of segment
		}
		if err != nil {
			if isLastSegment {
				return nil // tail corruption: truncated record header
			}
			return kverrors.WALCorruption("truncated record header in " + path)
		}

		typeByte := recHeader[0]
		rtype := RecordType(typeByte & typeMask)
		compressed := typeByte&compressedFlag != 0
		length := binary.LittleEndian.Uint32(recHeader[1:5])
		wantSum := binary.LittleEndian.Uint32(recHeader[5:9])

		data := make([]byte, length)
		if _, err := io.ReadFull(r, data); err != nil {
			if isLastSegment {
				return nil // tail corruption: truncated record data
			}
			return kverrors.WALCorruption("truncated record data in " + path)
		}

		// The record's declared length was read in full, so from here a
		// decode failure is only recoverable tail corruption when
		// nothing readable follows it anywhere in the WAL — a bad
		// checksum, a broken snappy block or an unknown type on a
		// record that has more data after it is a corrupt WAL, not a
		// crash artifact, no matter which segment file it lives in.
		tailCorruption := isLastSegment && !moreDataFollows(r)

		if crc32.ChecksumIEEE(data) != wantSum {
			if tailCorruption {
				return nil // tail corruption: checksum mismatch on crash
			}
			return kverrors.WALCorruption("checksum mismatch in " + path)
		}

		if compressed {
			decoded, derr := snappy.Decode(nil, data)
			if derr != nil {
				if tailCorruption {
					return nil
				}
				return kverrors.WALCorruption("snappy decode failed in " + path)
			}
			data = decoded
		}

		switch rtype {
		case RecordLogEntry:
			state.Entries = append(state.Entries, data)
		case RecordVote:
			if len(data) != 16 {
				return kverrors.WALCorruption("malformed vote record in " + path)
			}
			state.CurrentTerm = binary.LittleEndian.Uint64(data[0:8])
			state.VotedFor = binary.LittleEndian.Uint64(data[8:16])
			state.HasVote = true
		case RecordTermUpdate:
			if len(data) != 8 {
				return kverrors.WALCorruption("malformed term record in " + path)
			}
			state.CurrentTerm = binary.LittleEndian.Uint64(data)
			state.HasVote = false
			state.VotedFor = 0
		case RecordSnapshotMarker:
			// reserved; ignored
		default:
			if tailCorruption {
				return nil
			}
			return kverrors.WALCorruption(fmt.Sprintf("unknown record type %d in %s", rtype, path))
		}
	}
}

// moreDataFollows reports whether r has any readable bytes left. It
// distinguishes a genuinely truncated tail record — nothing valid after
// it anywhere in the WAL — from corruption in the middle of an otherwise
// intact segment.
func moreDataFollows(r *bufio.Reader) bool {
	_, err := r.Peek(1)
	return err == nil
}
