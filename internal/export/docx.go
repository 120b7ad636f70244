package export

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

const docxMimeType = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

var lookPath = exec.LookPath

// exportDOCX pipes the print HTML through pandoc.
func exportDOCX(ctx context.Context, html string, title string) (*Result, error) {
	bin, err := lookPath("pandoc")
	if err != nil {
		return nil, fmt.Errorf("%w: pandoc not installed", ErrDOCXDependencyMissing)
	}

	cmd := exec.CommandContext(ctx, bin, pandocArgs(title)...)
	cmd.Stdin = strings.NewReader(html)

	output, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("pandoc failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return nil, fmt.Errorf("run pandoc: %w", err)
	}

	return &Result{
		Data:     output,
		Filename: sanitizeFilename(title) + ".docx",
		MimeType: docxMimeType,
	}, nil
}

// pandocArgs reads HTML on stdin and writes a standalone document to stdout.
// Citations arrive as plain paragraphs, so smart quotes stay off to keep
// the formatted references byte-for-byte.
func pandocArgs(title string) []string {
	return []string{
		"--from", "html-smart",
		"--to", "docx",
		"--standalone",
		"--metadata", "title=" + title,
		"--metadata", "lang=en-US",
		"--output", "-",
	}
}
