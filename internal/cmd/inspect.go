package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/masahif/docharvest/internal/contentfile"
)

func newInspectCmd() *cobra.Command {
	inspect := &cobra.Command{
		Use:   "inspect FILE...",
		Short: "List the records of content files and verify their terminator",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			quiet, _ := cmd.Flags().GetBool("quiet")
			return runInspect(cmd.OutOrStdout(), args, quiet)
		},
	}
	inspect.Flags().BoolP("quiet", "q", false, "Print only the per-file summary")
	return inspect
}

func runInspect(out io.Writer, paths []string, quiet bool) error {
	var failed []error
	for _, path := range paths {
		records, size, err := inspectFile(out, path, quiet)
		status := "ok"
		if err != nil {
			status = err.Error()
			failed = append(failed, fmt.Errorf("%s: %w", path, err))
		}
		_, _ = fmt.Fprintf(out, "%s: %d records, %d body bytes, %s\n", path, records, size, status)
	}
	return errors.Join(failed...)
}

func inspectFile(out io.Writer, path string, quiet bool) (int, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to open content file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var (
		count int
		total int64
	)
	reader := contentfile.NewReader(file)
	for {
		record, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return count, total, nil
		}
		if err != nil {
			return count, total, err
		}
		count++
		total += int64(len(record.Body))
		if !quiet {
			_, _ = fmt.Fprintf(out, "doc_%d\t%d\n", record.ID, len(record.Body))
		}
	}
}
