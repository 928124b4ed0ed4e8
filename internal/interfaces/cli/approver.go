package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/vtcode/vtcode/internal/domain/service"
)

// TerminalApprover prompts the user on the terminal before sensitive tools
// execute. Implements service.Approver.
type TerminalApprover struct {
	in   *bufio.Reader
	out  io.Writer
	bell bool
}

// NewTerminalApprover creates an approver reading from in and writing to out.
func NewTerminalApprover(in io.Reader, out io.Writer, bell bool) *TerminalApprover {
	return &TerminalApprover{
		in:   bufio.NewReader(in),
		out:  out,
		bell: bell,
	}
}

// RequestApproval implements service.Approver.
func (a *TerminalApprover) RequestApproval(ctx context.Context, req service.ApprovalRequest) service.PermissionResult {
	if a.bell {
		fmt.Fprint(a.out, "\a")
	}

	args, _ := json.MarshalIndent(req.Args, "  ", "  ")
	fmt.Fprintf(a.out, "\n  Tool %q requests approval:\n  %s\n", req.ToolName, string(args))
	if req.Reason != "" {
		fmt.Fprintf(a.out, "  Reason: %s\n", req.Reason)
	}
	fmt.Fprint(a.out, "  Allow? [y]es / [s]ession / [a]lways / [n]o / [q]uit: ")

	answerCh := make(chan string, 1)
	go func() {
		line, err := a.in.ReadString('\n')
		if err != nil {
			answerCh <- "q"
			return
		}
		answerCh <- strings.ToLower(strings.TrimSpace(line))
	}()

	select {
	case <-ctx.Done():
		return service.PermInterrupted
	case answer := <-answerCh:
		switch answer {
		case "y", "yes":
			return service.PermApproved
		case "s", "session":
			return service.PermApprovedSession
		case "a", "always":
			return service.PermApprovedPermanent
		case "q", "quit", "exit":
			return service.PermExit
		default:
			return service.PermDenied
		}
	}
}
