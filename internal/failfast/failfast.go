// Package failfast terminates the process when a steady-state invariant is
// violated and there is no caller left to report the error to.
package failfast

import (
	"fmt"
	"os"

	"github.com/microsoft/wil-sub001/internal/log"
)

// ExitCode is the status used for fail-fast termination (EX_SOFTWARE).
const ExitCode = 70

// Func handles an unrecoverable error. The default, Exit, never returns;
// replacements used in tests may.
type Func func(err error)

var exit = os.Exit

// Exit logs err and terminates the process with ExitCode.
func Exit(err error) {
	log.ErrorErr(log.CatWatcher, "fatal invariant violation", err)
	fmt.Fprintf(os.Stderr, "changewatch: fatal: %v\n", err)
	exit(ExitCode)
}
