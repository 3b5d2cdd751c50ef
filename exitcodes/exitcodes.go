// Package exitcodes defines the standard exit codes used by op-conform.
package exitcodes

// Exit code constants used by op-conform.
//
// * Success (0): every discovered test case passed at every optimization level
// * TestFailure (1): one or more test cases failed
// * RuntimeErr (2): the harness itself could not run (bad configuration, unusable test directory, ...)
const (
	Success     = 0 // All test cases pass
	TestFailure = 1 // Test case failures
	RuntimeErr  = 2 // Runtime or configuration errors
)

// ForFailCount maps a finished run's failure count to its exit code
func ForFailCount(failed int) int {
	if failed == 0 {
		return Success
	}
	return TestFailure
}
