// Package command runs external tools (npm) with explicit argument lists,
// per-call deadlines and captured output. Nothing is ever passed through a
// shell: configured command lines are split into words with POSIX shell
// rules and executed directly.
package command
