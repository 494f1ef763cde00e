// Package ir provides the attribute value model shared by every loom package.
//
// ir imports nothing internal. World state, operations, archives and the
// journal all carry attributes as ir.Value.
//
// Key design constraints:
//   - Value is sealed: Null, Bool, Int, Float, String, List, Object
//   - Int and Float are distinct kinds; JSON keeps the distinction
//   - Object iteration goes through SortedKeys for deterministic output
//   - Identifiers are NFC normalized via Normalize
package ir
