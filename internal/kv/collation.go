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
Key Ordering
============

list_keys is specified as "order unspecified", but a deterministic order
is valuable for tests and for a human reading kvraftctl's output, so the
store accepts a pluggable Collator. BinaryCollator (byte-wise) is the
default; UnicodeCollator wraps golang.org/x/text/collate for locale-aware
sorting when a deployment wants keys displayed the way a human would
expect them in their own language, not ASCII order.
*/
package kv

import (
	"strings"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Collator orders keys for ListKeys.
type Collator interface {
	// Compare returns -1, 0 or 1 as a < b, a == b or a > b.
	Compare(a, b string) int
}

// BinaryCollator performs a byte-wise comparison, matching Go's native
// string ordering.
type BinaryCollator struct{}

func (BinaryCollator) Compare(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// NocaseCollator compares case-insensitively.
type NocaseCollator struct{}

func (NocaseCollator) Compare(a, b string) int {
	al, bl := strings.ToLower(a), strings.ToLower(b)
	switch {
	case al < bl:
		return -1
	case al > bl:
		return 1
	default:
		return 0
	}
}

// UnicodeCollator orders keys using Unicode collation rules for a locale.
type UnicodeCollator struct {
	collator *collate.Collator
}

// NewUnicodeCollator builds a UnicodeCollator for the given BCP 47 locale
// tag (e.g. "en", "de", "sv"), falling back to English for an unknown or
// empty locale.
func NewUnicodeCollator(locale string) *UnicodeCollator {
	tag := language.Make(locale)
	if tag == language.Und {
		tag = language.English
	}
	return &UnicodeCollator{collator: collate.New(tag, collate.Loose)}
}

func (c *UnicodeCollator) Compare(a, b string) int {
	return c.collator.CompareString(a, b)
}

// GetCollator resolves a collator by name: "binary" (default), "nocase",
// or any other string, treated as a locale tag for UnicodeCollator.
func GetCollator(name string) Collator {
	switch name {
	case "", "binary":
		return BinaryCollator{}
	case "nocase":
		return NocaseCollator{}
	default:
		return NewUnicodeCollator(name)
	}
}
