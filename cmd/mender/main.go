// File: cmd/mender/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/mender/cmd"
	"github.com/xkilldash9x/mender/internal/observability"
)

const panicLogFile = "mender-panic.log"

// Function variables for mocking in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
	execute     = cmd.Execute
)

func main() {
	defer handlePanic()

	// SIGINT/SIGTERM cancel the context; stages stop at the next checkpoint.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	run(ctx, stop)
}

// run executes the command tree and maps its result to an exit code.
// Any failure, interruption included, exits 1.
func run(ctx context.Context, stop context.CancelFunc) {
	if err := execute(ctx); err != nil {
		stop()
		osExit(1)
	}
}

// handlePanic writes the stack to a crash log so a panic in one stage
// leaves something actionable behind.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	panicMessage := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(panicLogFile, []byte(panicMessage), 0644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", panicMessage)
		osExit(2)
		return
	}
	fmt.Fprintf(os.Stderr, "mender crashed. Details logged to %s\n", panicLogFile)
	osExit(2)
}
