package nginx

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
)

var commandContext = exec.CommandContext

// ValidationError carries the verbatim output of a failed syntax check.
type ValidationError struct {
	Output string
	Err    error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("nginx config check failed: %v", e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Validator runs "<binary> -t".
type Validator struct {
	Binary string
}

// Validate returns nil when nginx accepts the configuration. A nonzero exit
// yields *ValidationError; failure to start the binary is returned as is.
func (v Validator) Validate(ctx context.Context) error {
	binary := v.Binary
	if binary == "" {
		binary = "nginx"
	}
	cmd := commandContext(ctx, binary, "-t") //nolint:gosec
	output, err := cmd.CombinedOutput()
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return &ValidationError{Output: string(output), Err: err}
	}
	return fmt.Errorf("run %s -t: %w", binary, err)
}
