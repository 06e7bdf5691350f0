package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/airheartdev/docsync"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0
	ExitFailure      = 1 // replication pass or store operation failed
	ExitCommandError = 2 // bad flags, configuration or locator
)

// ExitError carries the exit code a command should end with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode returns ExitFailure for errors that are not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter writes command results as JSON or text.
type OutputFormatter struct {
	Format string
	Writer io.Writer
}

// Print writes v as JSON, or calls text to render it.
func (f *OutputFormatter) Print(v any, text func(w io.Writer)) error {
	if f.Format == "json" {
		enc := json.NewEncoder(f.Writer)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(f.Writer)
	return nil
}

// WriteReport renders a pass report as aligned text.
func WriteReport(w io.Writer, r docsync.Report) {
	fmt.Fprintf(w, "source:   %s\n", r.Source)
	fmt.Fprintf(w, "target:   %s\n", r.Target)
	fmt.Fprintf(w, "created:  %t\n", r.Created)
	fmt.Fprintf(w, "read:     %d\n", r.DocsRead)
	fmt.Fprintf(w, "missing:  %d\n", r.MissingRevs)
	fmt.Fprintf(w, "written:  %d\n", r.DocsWritten)
	fmt.Fprintf(w, "bulk:     %t\n", r.Bulk)
	fmt.Fprintf(w, "duration: %s\n", r.Duration)
}

// WriteInfo renders a database snapshot as aligned text.
func WriteInfo(w io.Writer, info docsync.DatabaseInfo) {
	fmt.Fprintf(w, "db_name:              %s\n", info.Name)
	fmt.Fprintf(w, "doc_count:            %d\n", info.DocCount)
	fmt.Fprintf(w, "doc_del_count:        %d\n", info.DeletedDocCount)
	fmt.Fprintf(w, "update_seq:           %d\n", info.UpdateSeq)
	fmt.Fprintf(w, "committed_update_seq: %d\n", info.CommittedUpdateSeq)
	fmt.Fprintf(w, "purge_seq:            %d\n", info.PurgeSeq)
	fmt.Fprintf(w, "data_size:            %d\n", info.DataSize)
	fmt.Fprintf(w, "disk_size:            %d\n", info.DiskSize)
	fmt.Fprintf(w, "compact_running:      %t\n", info.CompactRunning)
}
