package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/buke/jsrt-go/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCLI(t *testing.T, stdin string, args ...string) (int, string, string) {
	t.Helper()
	var out, errOut bytes.Buffer
	code := run(args, strings.NewReader(stdin), &out, &errOut)
	return code, out.String(), errOut.String()
}

func writeScript(t *testing.T, dir, name, src string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(src), 0600))
	return path
}

func TestRunEval(t *testing.T) {
	code, out, _ := runCLI(t, "", "-e", "1+2")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "3")

	code, out, _ = runCLI(t, "", "-e", "undefined")
	require.Equal(t, 0, code)
	assert.Empty(t, strings.TrimSpace(out))
}

func TestRunConsole(t *testing.T) {
	code, out, errOut := runCLI(t, "", "-e", `console.log("hello", 1); console.error("bad")`)
	require.Equal(t, 0, code)
	assert.Equal(t, "hello 1\n", out)
	assert.Equal(t, "bad\n", errOut)
}

func TestRunScriptError(t *testing.T) {
	code, _, errOut := runCLI(t, "", "-e", `throw new TypeError("nope")`)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "TypeError: nope")

	code, _, errOut = runCLI(t, "", "-e", `){`)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "SyntaxError")
}

func TestRunDisableEval(t *testing.T) {
	code, _, _ := runCLI(t, "", "-e", `eval("1")`)
	assert.Equal(t, 0, code)

	code, _, errOut := runCLI(t, "", "--disable-eval", "-e", `eval("1")`)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "Error:")
}

func TestRunStdin(t *testing.T) {
	code, out, _ := runCLI(t, "console.log(6 * 7)")
	require.Equal(t, 0, code)
	assert.Equal(t, "42\n", out)
}

func TestRunFiles(t *testing.T) {
	dir := t.TempDir()
	a := writeScript(t, dir, "a.js", `console.log("a")`)
	b := writeScript(t, dir, "b.js", `console.log("b")`)

	code, out, _ := runCLI(t, "", a, b)
	require.Equal(t, 0, code)
	assert.Equal(t, "a\nb\n", out)

	code, _, errOut := runCLI(t, "", filepath.Join(dir, "missing.js"))
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "failed to read")

	bad := writeScript(t, dir, "bad.js", `throw new Error("boom")`)
	code, out, errOut = runCLI(t, "", bad, a)
	assert.Equal(t, 1, code)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "bad.js")
	assert.Contains(t, errOut, "boom")
}

func TestRunLocalStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "storage.db")

	code, out, _ := runCLI(t, "", "--storage-path", path, "-e",
		`localStorage.setItem("n", 41); localStorage.setItem("", "e"); console.log(localStorage.length)`)
	require.Equal(t, 0, code)
	assert.Equal(t, "2\n", out)

	code, out, _ = runCLI(t, "", "--storage-path", path, "-e",
		`console.log(Number(localStorage.getItem("n")) + 1, localStorage.getItem("missing"), localStorage.key(0) === "", localStorage.key(5))`)
	require.Equal(t, 0, code)
	assert.Equal(t, "42 null true null\n", out)

	code, _, errOut := runCLI(t, "", "--storage-path", path, "-e", `localStorage.getItem()`)
	assert.Equal(t, 1, code)
	assert.Contains(t, errOut, "requires 1 argument")

	code, out, _ = runCLI(t, "", "--storage-path", path, "-e",
		`localStorage.removeItem(""); console.log(localStorage.length, String(localStorage))`)
	require.Equal(t, 0, code)
	assert.Equal(t, "1 [object Storage]\n", out)

	s, err := storage.Open(path)
	require.NoError(t, err)
	v, ok, err := s.Get("n")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "41", v)
	require.NoError(t, s.Close())

	code, out, _ = runCLI(t, "", "-e", `console.log(typeof localStorage)`)
	require.Equal(t, 0, code)
	assert.Equal(t, "undefined\n", out)
}

func TestRunTiming(t *testing.T) {
	code, out, _ := runCLI(t, "", "--timing", "-e", "1")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "took ")
}

func TestNeedsContinuation(t *testing.T) {
	cases := map[string]bool{
		"1 + 2":          false,
		"function f() {": true,
		"[1, 2,":         true,
		"foo(":           true,
		`"unterminated`:  true,
		`"a { b"`:        false,
		`'it\'s'`:        false,
		"`template":      true,
		"if (x) { y() }": false,
		"}":              false,
	}
	for line, want := range cases {
		assert.Equal(t, want, needsContinuation(line), line)
	}
}

func TestREPLFeed(t *testing.T) {
	s := &repl{}

	code, ready := s.feed("  1 + 2  ")
	assert.True(t, ready)
	assert.Equal(t, "1 + 2", code)

	_, ready = s.feed("")
	assert.False(t, ready)

	_, ready = s.feed("function f() {")
	assert.False(t, ready)
	assert.True(t, s.inMultiline)
	_, ready = s.feed("  return 1")
	assert.False(t, ready)
	_, ready = s.feed("}")
	assert.False(t, ready)
	code, ready = s.feed("")
	assert.True(t, ready)
	assert.False(t, s.inMultiline)
	assert.Equal(t, "function f() {\n  return 1\n}", code)

	_, ready = s.feed(`let x = 1 + \`)
	assert.False(t, ready)
	_, ready = s.feed("2")
	assert.False(t, ready)
	code, ready = s.feed("")
	assert.True(t, ready)
	assert.Equal(t, "let x = 1 + \n2", code)
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", formatBytes(512))
	assert.Equal(t, "2.00 KB", formatBytes(2048))
	assert.Equal(t, "3.00 MB", formatBytes(3<<20))
}
