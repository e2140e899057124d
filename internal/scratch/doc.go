// Package scratch manages per-job working directories. Every intermediate
// artifact a job produces lands under its workspace, so cleanup is a single
// directory removal and a crashed job leaves nothing orphaned outside its
// own tree.
package scratch
