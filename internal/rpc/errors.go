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

import "fmt"

func errNoSuchPeer(peer uint64) error {
	return fmt.Errorf("rpc: no known address for peer %d", peer)
}

func errCorrelationMismatch(want, got uint64) error {
	return fmt.Errorf("rpc: correlation id mismatch: sent %d, received %d", want, got)
}

func errUnknownMessageType(t MessageType) error {
	return fmt.Errorf("rpc: unknown message type %s", t)
}
