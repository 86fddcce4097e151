package subprocess

import (
	"context"
	"fmt"
	"os/exec"
)

// Run starts cmd and waits for it to finish, killing the process if ctx is
// cancelled first. The command must not have been started already. Callers
// that want the tool's stderr should set cmd.Stderr to a buffer before
// calling; Compile()d ffmpeg commands arrive that way.
func Run(ctx context.Context, cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		// Reap the process so we don't leak it, then surface the
		// cancellation rather than the kill-induced exit error.
		<-done
		return ctx.Err()
	case err := <-done:
		return err
	}
}
