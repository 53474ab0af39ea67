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

// persistTerm durably records the node's current term. Called whenever a
// higher term is observed, before the node acts on it in any way visible
// to a peer. Caller must hold n.mu.
func (n *Node) persistTerm() error {
	if n.persister == nil {
		return nil
	}
	if err := n.persister.AppendTerm(n.currentTerm); err != nil {
		return err
	}
	return n.persister.Sync()
}

// persistEntryLocked durably appends a single log entry before it is
// considered part of the node's log for replication purposes. Caller
// must hold n.mu.
func (n *Node) persistEntryLocked(e LogEntry) error {
	if n.persister == nil {
		return nil
	}
	if err := n.persister.AppendLogEntry(EncodeLogEntry(e)); err != nil {
		return err
	}
	return n.persister.Sync()
}
