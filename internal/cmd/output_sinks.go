package cmd

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/contentmesh/gatekeeper/internal/output"
)

const (
	flagOutputFormat = "output-format"
	flagOut          = "out"
)

// addOutputFlags registers --output-format and --out on cmd.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagOutputFormat, string(output.FormatTable), "Output format: table|json|yaml")
	cmd.Flags().String(flagOut, "", "Write output to a file instead of stdout")
}

func resolveOutputFormat(cmd *cobra.Command) (output.Format, error) {
	value, err := cmd.Flags().GetString(flagOutputFormat)
	if err != nil {
		return "", err
	}
	return output.ParseFormat(value)
}

// render writes view to stdout, or to the --out file. Files are replaced
// atomically so a failed render never leaves partial output behind.
func render(cmd *cobra.Command, view output.View) error {
	format, err := resolveOutputFormat(cmd)
	if err != nil {
		return err
	}
	path, err := cmd.Flags().GetString(flagOut)
	if err != nil {
		return err
	}

	path = strings.TrimSpace(path)
	if path == "" || path == "-" {
		return output.Render(cmd.OutOrStdout(), format, view)
	}

	var buf bytes.Buffer
	if err := output.Render(&buf, format, view); err != nil {
		return err
	}
	return writeFileAtomic(path, buf.Bytes())
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create output file: %w", err)
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write output file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
