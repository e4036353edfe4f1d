package main

import (
	"bytes"
	"io"
	"strconv"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
	"github.com/buke/jsrt-go"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	errorColor   = lipgloss.Color("#EF4444")
	warnColor    = lipgloss.Color("#F59E0B")
	infoColor    = lipgloss.Color("#3B82F6")
	dimColor     = lipgloss.Color("#6B7280")

	logoStyle     = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	promptStyle   = lipgloss.NewStyle().Foreground(primaryColor).Bold(true)
	contStyle     = lipgloss.NewStyle().Foreground(dimColor)
	errorStyle    = lipgloss.NewStyle().Foreground(errorColor).Bold(true)
	errorMsgStyle = lipgloss.NewStyle().Foreground(errorColor)
	successStyle  = lipgloss.NewStyle().Foreground(successColor)
	warnStyle     = lipgloss.NewStyle().Foreground(warnColor)
	infoStyle     = lipgloss.NewStyle().Foreground(infoColor)
	dimStyle      = lipgloss.NewStyle().Foreground(dimColor)
	cmdStyle      = lipgloss.NewStyle().Foreground(warnColor)
	titleStyle    = lipgloss.NewStyle().Foreground(primaryColor).Bold(true).Underline(true)
	stringStyle   = lipgloss.NewStyle().Foreground(successColor)
	numberStyle   = lipgloss.NewStyle().Foreground(infoColor)
	boolStyle     = lipgloss.NewStyle().Foreground(warnColor)
)

var (
	jsLexer     chroma.Lexer
	chromaStyle *chroma.Style
	formatter   chroma.Formatter
)

func initSyntaxHighlighter() {
	if jsLexer != nil {
		return
	}
	jsLexer = lexers.Get("javascript")
	if jsLexer == nil {
		jsLexer = lexers.Fallback
	}
	jsLexer = chroma.Coalesce(jsLexer)
	chromaStyle = styles.Get("dracula")
	if chromaStyle == nil {
		chromaStyle = styles.Fallback
	}
	formatter = formatters.Get("terminal256")
	if formatter == nil {
		formatter = formatters.Fallback
	}
}

func highlightCode(code string) string {
	if jsLexer == nil {
		return code
	}
	var buf bytes.Buffer
	it, err := jsLexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	if err := formatter.Format(&buf, chromaStyle, it); err != nil {
		return code
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// formatResult renders a completion value for display.
func formatResult(v jsrt.Value) string {
	switch val := v.(type) {
	case *jsrt.Null:
		return dimStyle.Render("null")
	case *jsrt.Boolean:
		return boolStyle.Render(strconv.FormatBool(val.Bool()))
	case *jsrt.Number:
		return numberStyle.Render(val.String())
	case *jsrt.String:
		s, _ := val.Value()
		return stringStyle.Render(strconv.Quote(s))
	case *jsrt.Symbol:
		return dimStyle.Render(val.String())
	case *jsrt.Function:
		name, _ := val.Name()
		if name == "" {
			name = "(anonymous)"
		}
		return dimStyle.Render("[Function: " + name + "]")
	case *jsrt.ErrorObject:
		return errorStyle.Render(val.ToError().Error())
	}
	if s, err := v.JSONStringify(); err == nil && s != "" {
		return highlightCode(s)
	}
	return v.String()
}

// newConsoleLogger prints console output on stdout and warnings and errors
// on stderr. Only the message is written unless verbose is set.
func newConsoleLogger(stdout, stderr io.Writer, verbose bool) *zap.Logger {
	enc := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	level := zapcore.InfoLevel
	if verbose {
		enc.LevelKey = "level"
		enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
		level = zapcore.DebugLevel
	}
	low := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= level && l < zapcore.WarnLevel })
	high := zap.LevelEnablerFunc(func(l zapcore.Level) bool { return l >= zapcore.WarnLevel })

	out := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(stdout), low)
	errOut := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(stderr), high)
	if !verbose {
		out, errOut = messageOnly{out}, messageOnly{errOut}
	}
	core := zapcore.NewTee(out, errOut)
	return zap.New(core)
}

// messageOnly drops structured fields so console output reads like a
// terminal console.
type messageOnly struct {
	zapcore.Core
}

func (c messageOnly) With([]zapcore.Field) zapcore.Core {
	return c
}

func (c messageOnly) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c messageOnly) Write(ent zapcore.Entry, _ []zapcore.Field) error {
	return c.Core.Write(ent, nil)
}

func newDiagnosticLogger(w io.Writer) *zap.Logger {
	enc := zap.NewDevelopmentEncoderConfig()
	enc.EncodeLevel = zapcore.CapitalColorLevelEncoder
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(enc), zapcore.AddSync(w), zapcore.DebugLevel)
	return zap.New(core).Named("jsrt")
}
