package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

// terminalApprover asks on the terminal before code runs. It shares the
// REPL's reader so answers and chat input never race for stdin.
type terminalApprover struct {
	in  *bufio.Reader
	out io.Writer
}

// Approve implements respond.Approver.
func (a *terminalApprover) Approve(ctx context.Context, language, code string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	fmt.Fprint(a.out, promptStyle.Render(fmt.Sprintf("Would you like to run this %s code? (y/n) ", language)))

	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return false, fmt.Errorf("read confirmation: %w", err)
	}
	return isYes(line), nil
}

func isYes(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	}
	return false
}
