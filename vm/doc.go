// Package vm implements a selective CIL interpreter.
//
// This package contains:
//   - byte-granular Value representation with per-byte knowledge
//   - mock heap for arrays, strings and boxed values
//   - static field storage with a freeze barrier
//   - frame-based interpreter for the integer and array subset of CIL
//   - shim table for stepping over calls the engine does not execute
package vm
