package mizar

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

// confirmPrompt asks a yes/no question on the terminal. When stdout is not
// a TTY (scripts, CI) it returns the default answer without blocking.
func confirmPrompt(question string, def bool) bool {
	if !term.IsTerminal(int(os.Stdout.Fd())) {
		return def
	}
	suffix := "[y/N]"
	if def {
		suffix = "[Y/n]"
	}
	colArrow.Print("-> ")
	fmt.Printf("%s %s ", question, suffix)

	reader := bufio.NewReader(os.Stdin)
	answer, err := reader.ReadString('\n')
	if err != nil {
		return def
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	return def
}
