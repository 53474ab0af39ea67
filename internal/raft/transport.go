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

package raft

// Transport delivers RequestVote and AppendEntries RPCs to peers. Both
// methods are invoked while the Node's mutex is held and must therefore
// be non-blocking: implementations hand the actual I/O off to their own
// goroutines and deliver the eventual response back into the node via
// HandleRequestVoteResponse / HandleAppendEntriesResponse.
type Transport interface {
	SendRequestVote(peer uint64, args RequestVoteArgs)
	SendAppendEntries(peer uint64, args AppendEntriesArgs)
}

// Applier is the state machine that committed entries are applied to.
// Apply is called with entries in strictly increasing Index order; the
// same Index may be presented more than once (idempotent replay) and
// must be a no-op on any repeat.
type Applier interface {
	Apply(entry LogEntry)
}

// ApplierFunc adapts a plain function to the Applier interface.
type ApplierFunc func(entry LogEntry)

func (f ApplierFunc) Apply(entry LogEntry) { f(entry) }
