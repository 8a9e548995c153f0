// Package permission maps capability names to bits, roles to capability
// masks, and decides whether a role satisfies an operation.
//
// Capabilities occupy bits 0..62 of a [Mask64]; bit 63 is the root bit held
// only by the global administrator role and satisfies every check.
//
// # What this package must NOT do
//
//   - Perform I/O.
//   - Resize masks after the registry is frozen.
package permission
