package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/buke/jsrt-go"
	"github.com/chzyer/readline"
)

type repl struct {
	*runner
	rt *jsrt.Runtime

	multiline   strings.Builder
	inMultiline bool
}

func newREPL(r *runner, rt *jsrt.Runtime) *repl {
	return &repl{runner: r, rt: rt}
}

var completions = []string{
	"var", "let", "const", "function", "return", "if", "else", "for", "while",
	"switch", "case", "break", "continue", "try", "catch", "finally", "throw",
	"new", "delete", "typeof", "instanceof", "class", "extends", "async", "await",
	"console.log", "console.error", "Math", "JSON.parse", "JSON.stringify",
	"Object.keys", "Object.entries", "Array.from", "Promise.resolve",
	"queueMicrotask",
	".help", ".exit", ".gc", ".memory", ".timing",
}

func (s *repl) loop() error {
	historyFile := ""
	if home, err := os.UserHomeDir(); err == nil {
		historyFile = filepath.Join(home, ".jsrt_history")
	}

	completer := readline.NewPrefixCompleter()
	for _, item := range completions {
		completer.Children = append(completer.Children, readline.PcItem(item))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            s.prompt(),
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		AutoComplete:      completer,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
		Stdout:            s.out,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize readline: %w", err)
	}
	defer rl.Close()

	s.banner()
	for {
		rl.SetPrompt(s.prompt())
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			s.multiline.Reset()
			s.inMultiline = false
			continue
		}
		if errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out, dimStyle.Render("Goodbye!"))
			return nil
		}
		if err != nil {
			return err
		}

		code, ready := s.feed(line)
		if !ready {
			continue
		}
		if strings.HasPrefix(code, ".") {
			if s.command(code) {
				return nil
			}
			continue
		}
		if err := s.evalAndPrint("<repl>", code); err != nil {
			fmt.Fprintln(s.out, renderError(err, true))
		}
	}
}

// feed adds a line of input and reports whether a complete snippet is
// ready. A trailing backslash or unbalanced brackets continue the input
// until an empty line.
func (s *repl) feed(line string) (string, bool) {
	if s.inMultiline {
		if strings.TrimSpace(line) != "" {
			s.multiline.WriteString(line)
			s.multiline.WriteString("\n")
			return "", false
		}
		code := s.multiline.String()
		s.multiline.Reset()
		s.inMultiline = false
		return strings.TrimSpace(code), strings.TrimSpace(code) != ""
	}
	line = strings.TrimSpace(line)
	if strings.HasSuffix(line, "\\") {
		s.multiline.WriteString(strings.TrimSuffix(line, "\\"))
		s.multiline.WriteString("\n")
		s.inMultiline = true
		return "", false
	}
	if needsContinuation(line) {
		s.multiline.WriteString(line)
		s.multiline.WriteString("\n")
		s.inMultiline = true
		return "", false
	}
	return line, line != ""
}

func (s *repl) prompt() string {
	if s.inMultiline {
		return contStyle.Render("... ")
	}
	return promptStyle.Render("jsrt") + dimStyle.Render(" > ")
}

func (s *repl) banner() {
	fmt.Fprintln(s.out, logoStyle.Render("jsrt")+dimStyle.Render(" v"+version))
	fmt.Fprintln(s.out, dimStyle.Render("Type ")+cmdStyle.Render(".help")+dimStyle.Render(" for commands"))
	fmt.Fprintln(s.out)
}

// command runs a REPL command and reports whether the REPL should exit.
func (s *repl) command(line string) bool {
	fields := strings.Fields(line)
	switch strings.ToLower(fields[0]) {
	case ".help", ".h":
		s.help()
	case ".exit", ".quit", ".q":
		fmt.Fprintln(s.out, dimStyle.Render("Goodbye!"))
		return true
	case ".gc":
		before, _ := s.rt.MemoryUsage()
		if err := s.rt.CollectGarbage(); err != nil {
			fmt.Fprintln(s.out, renderError(err, false))
			return false
		}
		after, _ := s.rt.MemoryUsage()
		fmt.Fprintln(s.out, successStyle.Render("✓")+fmt.Sprintf(" collected, %s in use (was %s)", formatBytes(after), formatBytes(before)))
	case ".memory", ".mem":
		s.memory()
	case ".timing":
		s.timing = !s.timing
		state := "disabled"
		if s.timing {
			state = "enabled"
		}
		fmt.Fprintln(s.out, infoStyle.Render("○")+" Timing "+state)
	default:
		fmt.Fprintln(s.out, errorStyle.Render("Unknown command:")+" "+fields[0])
		fmt.Fprintln(s.out, dimStyle.Render("Type .help for available commands"))
	}
	return false
}

func (s *repl) help() {
	fmt.Fprintln(s.out)
	fmt.Fprintln(s.out, titleStyle.Render("Commands"))
	cmds := []struct{ cmd, desc string }{
		{".help", "Show this help message"},
		{".exit", "Exit the REPL"},
		{".gc", "Run a garbage collection"},
		{".memory", "Show runtime memory usage and limit"},
		{".timing", "Toggle execution timing"},
	}
	for _, c := range cmds {
		fmt.Fprintf(s.out, "  %s  %s\n", cmdStyle.Render(fmt.Sprintf("%-10s", c.cmd)), dimStyle.Render(c.desc))
	}
	fmt.Fprintln(s.out)
}

func (s *repl) memory() {
	usage, err := s.rt.MemoryUsage()
	if err != nil {
		fmt.Fprintln(s.out, renderError(err, false))
		return
	}
	limit, err := s.rt.MemoryLimit()
	if err != nil {
		fmt.Fprintln(s.out, renderError(err, false))
		return
	}
	limitText := "none"
	if limit > 0 {
		limitText = formatBytes(limit)
	}
	fmt.Fprintf(s.out, "  %s  %s\n", dimStyle.Render(fmt.Sprintf("%-8s", "usage")), formatBytes(usage))
	fmt.Fprintf(s.out, "  %s  %s\n", dimStyle.Render(fmt.Sprintf("%-8s", "limit")), limitText)
	fmt.Fprintf(s.out, "  %s  %d\n", dimStyle.Render(fmt.Sprintf("%-8s", "evals")), s.evalCount)
}

func formatBytes(n uint64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(n)/(1<<10))
	}
	return fmt.Sprintf("%d B", n)
}

// needsContinuation reports whether line leaves a bracket or string open.
func needsContinuation(line string) bool {
	opens := 0
	inString := false
	var quote byte
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if inString {
			if ch == '\\' {
				i++
				continue
			}
			if ch == quote {
				inString = false
			}
			continue
		}
		switch ch {
		case '"', '\'', '`':
			inString = true
			quote = ch
		case '{', '(', '[':
			opens++
		case '}', ')', ']':
			opens--
		}
	}
	return opens > 0 || inString
}
