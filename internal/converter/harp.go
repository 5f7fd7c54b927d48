package converter

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// HarpTool runs the harpconvert command-line tool for each transform.
type HarpTool struct {
	// Binary is the harpconvert executable. Default: "harpconvert"
	// resolved through PATH.
	Binary string
}

// Transform invokes harpconvert with the operation chain against src,
// writing the gridded product to dst. The tool's "product contains no
// variables" diagnostic maps to ErrNoData.
func (h HarpTool) Transform(ctx context.Context, src, dst, operations string) error {
	binary := h.Binary
	if binary == "" {
		binary = "harpconvert"
	}

	cmd := exec.CommandContext(ctx, binary, "-a", operations, src, dst)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		diag := stderr.String()
		if isNoData(diag) {
			return fmt.Errorf("%w: %s", ErrNoData, src)
		}
		if diag != "" {
			return fmt.Errorf("harpconvert %s: %v: %s", src, err, strings.TrimSpace(diag))
		}
		return fmt.Errorf("harpconvert %s: %w", src, err)
	}

	return nil
}

// isNoData matches the diagnostics harp emits for a granule with no
// samples left: "product contains no variables, or variables without
// data".
func isNoData(diag string) bool {
	d := strings.ToLower(diag)
	return strings.Contains(d, "no variables") ||
		strings.Contains(d, "variables without data")
}
