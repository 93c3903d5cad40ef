package mizar

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
)

// cmdResult holds the observable outcome of a logged command.
type cmdResult struct {
	ExitCode int
	Stdout   []string
	Stderr   []string
}

// yesReader answers every stdin read with "y\n", forever. Used to drive
// pacman confirmation prompts during non-interactive dependency installs.
type yesReader struct{}

func (yesReader) Read(p []byte) (int, error) {
	n := 0
	for n+2 <= len(p) {
		p[n] = 'y'
		p[n+1] = '\n'
		n += 2
	}
	if n == 0 && len(p) == 1 {
		p[0] = 'y'
		n = 1
	}
	return n, nil
}

// runLogged executes cmd through exe while recording stdout and stderr
// line by line. Each stream is drained by its own goroutine and echoed to
// the terminal as it arrives; both pumps are joined before the result is
// assembled, so no output can race past the exit status.
func runLogged(exe *Executor, cmd *exec.Cmd, feedYes bool) (*cmdResult, error) {
	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		outR.Close()
		outW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	cmd.Stdout = outW
	cmd.Stderr = errW
	if feedYes {
		cmd.Stdin = yesReader{}
	} else {
		cmd.Stdin = os.Stdin
	}

	res := &cmdResult{}
	var wg sync.WaitGroup
	wg.Add(2)
	go pumpLines(outR, os.Stdout, &res.Stdout, &wg)
	go pumpLines(errR, os.Stderr, &res.Stderr, &wg)

	runErr := exe.Run(cmd)

	// The child holds the write ends only via inheritance; close ours so
	// the pumps see EOF, then join them.
	outW.Close()
	errW.Close()
	wg.Wait()
	outR.Close()
	errR.Close()

	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return nil, runErr
	}
	return res, nil
}

// pumpLines copies r to echo line by line, appending each line to sink.
func pumpLines(r io.Reader, echo io.Writer, sink *[]string, wg *sync.WaitGroup) {
	defer wg.Done()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		fmt.Fprintln(echo, line)
		*sink = append(*sink, line)
	}
}
