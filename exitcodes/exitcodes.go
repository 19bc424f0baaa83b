// Package exitcodes defines the standard exit codes used by remrun.
package exitcodes

// Exit code constants used by remrun
// These constants define the exit codes that the application uses to indicate
// various states when it exits:
//
// * Success (0): Used when all runs complete without failures
// * TestFailure (1): Used when one or more cases fail
// * RuntimeErr (2): Used for runtime errors such as panics, timeouts or other failures
const (
	Success     = 0 // All cases pass
	TestFailure = 1 // Case failures
	RuntimeErr  = 2 // Runtime errors or timeouts
)
