package gha

import (
	"fmt"
	"io"
	"os"
)

// legacyOut receives the ::set-output workflow command when no
// GITHUB_OUTPUT file is available. Overridable in tests.
var legacyOut io.Writer = os.Stdout

// SetOutput records a step output for the GitHub Actions runner. Current
// runners expose a GITHUB_OUTPUT file to append to; older self-hosted
// runners still understand the ::set-output workflow command.
func SetOutput(name string, value string) error {
	path := os.Getenv("GITHUB_OUTPUT")
	if path == "" {
		_, err := fmt.Fprintf(legacyOut, "::set-output name=%s::%s\n", name, value)
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "%s=%s\n", name, value); err != nil {
		return fmt.Errorf("failed to write output %s: %w", name, err)
	}
	return nil
}
