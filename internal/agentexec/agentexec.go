// Package agentexec is the fame-agent binary's Runnable. moduleSource is
// an executable, invoked with the target file's path and type as
// arguments, its resolved config piped to stdin as JSON, and a
// agentproto.ResultsPayload expected back as JSON on stdout.
package agentexec

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/fame/core/internal/agentproto"
)

// Runner executes uploaded module binaries inside the VM's scratch
// directory.
type Runner struct {
	ScratchDir string
}

// NewRunner creates a Runner rooted at scratchDir.
func NewRunner(scratchDir string) *Runner {
	return &Runner{ScratchDir: scratchDir}
}

// Run implements agent.Runnable.
func (r *Runner) Run(ctx context.Context, moduleSource []byte, name string, config map[string]any, targetPath, targetType string) (agentproto.ResultsPayload, error) {
	binPath := filepath.Join(r.ScratchDir, name)
	if err := os.WriteFile(binPath, moduleSource, 0o755); err != nil {
		return agentproto.ResultsPayload{}, fmt.Errorf("agentexec: write module binary: %w", err)
	}
	defer os.Remove(binPath)

	stdin, err := json.Marshal(config)
	if err != nil {
		return agentproto.ResultsPayload{}, fmt.Errorf("agentexec: encode config: %w", err)
	}

	cmd := exec.CommandContext(ctx, binPath, targetPath, targetType)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return agentproto.ResultsPayload{}, fmt.Errorf("agentexec: module %s exited with error: %w (stderr: %s)", name, err, stderr.String())
	}

	var payload agentproto.ResultsPayload
	if err := json.Unmarshal(stdout.Bytes(), &payload); err != nil {
		return agentproto.ResultsPayload{}, fmt.Errorf("agentexec: decode module output: %w", err)
	}
	return payload, nil
}
