package build

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/evanw/esbuild/pkg/api"

	"github.com/conneroisu/modserve/internal/errors"
	"github.com/conneroisu/modserve/internal/validation"
)

// Compiler turns component source text into an ES module.
type Compiler interface {
	Compile(ctx context.Context, file string, src []byte) ([]byte, error)
}

// CompilerFunc adapts a function to the Compiler interface.
type CompilerFunc func(ctx context.Context, file string, src []byte) ([]byte, error)

// Compile calls f.
func (f CompilerFunc) Compile(ctx context.Context, file string, src []byte) ([]byte, error) {
	return f(ctx, file, src)
}

// DefaultJSXImportSource is the automatic JSX runtime used when none is
// configured.
const DefaultJSXImportSource = "preact"

// ESBuildCompiler compiles JSX and TypeScript components in-process.
type ESBuildCompiler struct {
	// JSXImportSource selects the automatic JSX runtime package, e.g. "preact".
	JSXImportSource string
	Target          api.Target
}

// NewESBuildCompiler creates an esbuild-backed compiler.
func NewESBuildCompiler(jsxImportSource string) *ESBuildCompiler {
	return &ESBuildCompiler{
		JSXImportSource: jsxImportSource,
		Target:          api.ESNext,
	}
}

// Compile transforms one file to an ES module. Syntax errors are reported
// as an *errors.CompileError carrying each diagnostic's location.
func (ec *ESBuildCompiler) Compile(ctx context.Context, file string, src []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	opts := api.TransformOptions{
		Loader:     loaderFor(file),
		Format:     api.FormatESModule,
		Target:     ec.Target,
		Sourcefile: filepath.Base(file),
	}
	if ec.JSXImportSource != "" {
		opts.JSX = api.JSXAutomatic
		opts.JSXImportSource = ec.JSXImportSource
	}

	result := api.Transform(string(src), opts)
	if len(result.Errors) > 0 {
		return nil, &errors.CompileError{File: file, Diagnostics: diagnostics(file, result.Errors)}
	}

	return result.Code, nil
}

func loaderFor(file string) api.Loader {
	switch filepath.Ext(file) {
	case ".jsx":
		return api.LoaderJSX
	case ".tsx":
		return api.LoaderTSX
	case ".ts", ".mts":
		return api.LoaderTS
	default:
		return api.LoaderJS
	}
}

func diagnostics(file string, msgs []api.Message) []errors.Diagnostic {
	diags := make([]errors.Diagnostic, 0, len(msgs))
	for _, m := range msgs {
		d := errors.Diagnostic{File: file, Message: m.Text}
		if m.Location != nil {
			d.Line = m.Location.Line
			d.Column = m.Location.Column + 1
			d.Snippet = m.Location.LineText
		}
		diags = append(diags, d)
	}

	return diags
}

// FilePlaceholder is replaced by the source path in CommandCompiler args.
const FilePlaceholder = "{file}"

// allowedCommands lists the external compilers CommandCompiler may run.
var allowedCommands = map[string]bool{
	"node":    true,
	"npx":     true,
	"bun":     true,
	"deno":    true,
	"esbuild": true,
	"swc":     true,
	"babel":   true,
}

// CommandCompiler pipes source through an external command, reading the
// compiled module from its stdout.
type CommandCompiler struct {
	command string
	args    []string
	timeout time.Duration
}

// NewCommandCompiler creates a compiler running command with args. A zero
// timeout means the request context alone bounds the run.
func NewCommandCompiler(command string, args []string, timeout time.Duration) *CommandCompiler {
	return &CommandCompiler{
		command: command,
		args:    args,
		timeout: timeout,
	}
}

// Compile runs the command with src on stdin.
func (cc *CommandCompiler) Compile(ctx context.Context, file string, src []byte) ([]byte, error) {
	if err := cc.validateCommand(); err != nil {
		return nil, fmt.Errorf("command validation failed: %w", err)
	}

	if cc.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cc.timeout)
		defer cancel()
	}

	args := make([]string, len(cc.args))
	for i, arg := range cc.args {
		args[i] = strings.ReplaceAll(arg, FilePlaceholder, file)
	}

	cmd := exec.CommandContext(ctx, cc.command, args...)
	cmd.Dir = filepath.Dir(file)
	cmd.Stdin = bytes.NewReader(src)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%s timed out: %w", cc.command, ctx.Err())
		}
		output := stderr.String()
		if output == "" {
			output = err.Error()
		}
		return nil, &errors.CompileError{
			File:        file,
			Diagnostics: errors.ParseDiagnostics(output, file),
			Output:      output,
		}
	}

	return stdout.Bytes(), nil
}

// Validate reports whether the command and arguments are allowed to run.
func (cc *CommandCompiler) Validate() error {
	return cc.validateCommand()
}

// validateCommand validates the command and arguments to prevent command injection
func (cc *CommandCompiler) validateCommand() error {
	if err := validation.ValidateCommand(cc.command, allowedCommands); err != nil {
		return err
	}

	for _, arg := range cc.args {
		if err := validation.ValidateArgument(strings.ReplaceAll(arg, FilePlaceholder, "file")); err != nil {
			return fmt.Errorf("invalid argument '%s': %w", arg, err)
		}
	}

	return nil
}
