package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"connectrpc.com/connect"
	"github.com/Cogwheel-Validator/spectra-wrap-and-send/orchestrator/wasm"
)

// Exit codes of wrapctl.
const (
	ExitSuccess      = 0
	ExitFailure      = 1
	ExitInvalidInput = 2 // rejected request or bad flags
	ExitBusy         = 3 // a saga is in flight, retry later
	ExitUnavailable  = 4
)

// ExitCode maps an error returned by a command to a process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var ce *connect.Error
	if !errors.As(err, &ce) {
		return ExitFailure
	}
	switch ce.Code() {
	case connect.CodeInvalidArgument, connect.CodeFailedPrecondition, connect.CodeNotFound:
		return ExitInvalidInput
	case connect.CodeAborted:
		return ExitBusy
	case connect.CodeUnavailable, connect.CodeDeadlineExceeded:
		return ExitUnavailable
	default:
		return ExitFailure
	}
}

type printer struct {
	format string
	w      io.Writer
}

// print writes v as JSON, or calls text for the human readable form.
func (p *printer) print(v any, text func(w io.Writer)) error {
	if p.format == "json" {
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(p.w)
	return nil
}

func table(w io.Writer, header []string, rows [][]string) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, r := range rows {
		fmt.Fprintln(tw, strings.Join(r, "\t"))
	}
	_ = tw.Flush()
}

// events prints the wasm attributes of a transaction, one line each.
func events(w io.Writer, evs []wasm.Event) {
	for _, ev := range evs {
		parts := make([]string, 0, len(ev.Attributes))
		for _, a := range ev.Attributes {
			parts = append(parts, a.Key+"="+a.Value)
		}
		fmt.Fprintf(w, "  %s %s\n", ev.Type, strings.Join(parts, " "))
	}
}
