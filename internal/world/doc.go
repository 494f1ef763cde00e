// Package world holds the entity store a block's history is made of.
//
// A State keeps three maps of entities (items, characters, places). It is
// mutated only by applying Operations; deleted entities are tombstoned so a
// later Create can tell a fresh id from a reused one. Every batch application
// evaluates each operation independently and returns one Result per
// operation, so callers can split a batch into succeeded and failed parts.
package world
