package core

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"

	"github.com/actionforge/flowrun/utils"

	"github.com/fatih/color"
)

var (
	errEmoji    = "❌"
	hintEmoji   = "💡"
	stackEmoji  = "🛠️"
	numberEmoji = "🔢"

	errorColor      = color.New(color.FgRed).SprintFunc()
	hintColor       = color.New(color.FgYellow).SprintFunc()
	contextColor    = color.New(color.FgCyan).SprintFunc()
	stackTraceColor = color.New(color.FgMagenta).SprintFunc()
	bold            = color.New(color.Bold).SprintFunc()
)

const HINT_INTERNAL_ERROR = "This is an internal error. Please report it via email or a GitHub issue."

var (
	ErrUnknownNodeKind    = errors.New("unknown node kind")
	ErrUnknownNode        = errors.New("unknown node")
	ErrSchemaValidation   = errors.New("schema validation failed")
	ErrInvalidFormat      = errors.New("invalid workflow format")
	ErrUnsupportedVersion = errors.New("unsupported workflow version")
	ErrCycleDetected      = errors.New("cycle detected in workflow")
)

type UnknownNodeKindError struct {
	Kind string
}

func (e *UnknownNodeKindError) Error() string {
	return fmt.Sprintf("unknown node type: '%s'", e.Kind)
}

func (e *UnknownNodeKindError) Unwrap() error {
	return ErrUnknownNodeKind
}

// SchemaValidationError lists the offending fields of a node's data payload.
type SchemaValidationError struct {
	Kind   NodeKind
	Fields []FieldError
}

type FieldError struct {
	Field   string
	Message string
}

func (e *SchemaValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("invalid data for node type '%s'", e.Kind)
	}
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return fmt.Sprintf("invalid data for node type '%s' (%s)", e.Kind, strings.Join(parts, "; "))
}

func (e *SchemaValidationError) Unwrap() error {
	return ErrSchemaValidation
}

type CycleError struct {
	NodeId string
}

func (e *CycleError) Error() string {
	if e.NodeId == "" {
		return ErrCycleDetected.Error()
	}
	return fmt.Sprintf("cycle detected in workflow (node: %s)", e.NodeId)
}

func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

type CauseError struct {
	Message string
}

func (e *CauseError) Error() string {
	return e.Message
}

// LeafError carries the go stack of the place it was created
// and every message that was added while it bubbled up.
type LeafError struct {
	Message    string
	GoStack    []uintptr
	ErrorStack []error
	Cause      error
	NodeId     string
	Hint       string
}

// Error joins the chain high level first, e.g. "unable to load: bad node: invalid JSON".
func (e *LeafError) Error() string {
	parts := make([]string, 0, len(e.ErrorStack)+2)
	for i := len(e.ErrorStack) - 1; i >= 0; i-- {
		if msg := e.ErrorStack[i].Error(); msg != "" {
			parts = append(parts, msg)
		}
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	}
	if e.Cause != nil {
		if msg := e.Cause.Error(); msg != "" {
			parts = append(parts, msg)
		}
	}
	return strings.Join(parts, ": ")
}

func (e *LeafError) ErrorWithCauses() string {
	var lines []string

	// iterate backwards for high-level first
	for i := len(e.ErrorStack) - 1; i >= 0; i-- {
		prefix := ""
		if len(lines) > 0 {
			prefix = strings.Repeat(" ", len(lines)) + "↳ "
		}
		lines = append(lines, prefix+e.ErrorStack[i].Error())
	}

	if e.Message != "" {
		prefix := ""
		if len(lines) > 0 {
			prefix = strings.Repeat(" ", len(lines)) + "↳ "
		}
		lines = append(lines, prefix+e.Message)
	}

	if e.Cause != nil {
		causeMsg := e.Cause.Error()
		if causeMsg != "" {
			p := strings.Repeat(" ", len(lines)) + "↳ "
			lines = append(lines, p+causeMsg)
		}
	}

	return strings.Join(lines, "\n")
}

func (e *LeafError) Unwrap() error {
	return e.Cause
}

func (e *LeafError) SetHint(hint string, formatArgs ...any) *LeafError {
	e.Hint = fmt.Sprintf(hint, formatArgs...)
	return e
}

func (e *LeafError) SetNode(nodeId string) *LeafError {
	if e.NodeId == "" {
		e.NodeId = nodeId
	}
	return e
}

func CreateErr(cause error, formatAndArgs ...any) *LeafError {
	var (
		message   string
		leafError *LeafError
	)

	if len(formatAndArgs) > 0 {
		format, args := formatAndArgs[0].(string), formatAndArgs[1:]
		message = fmt.Sprintf(format, args...)
	}

	// an existing LeafError somewhere in the chain keeps its
	// original stack and root cause, we only add our message.
	if cause != nil && errors.As(cause, &leafError) {
		if message != "" {
			leafError.ErrorStack = append(leafError.ErrorStack, &CauseError{
				Message: message,
			})
		}
	} else {
		stack := make([]uintptr, 64)

		leafError = &LeafError{
			GoStack:    stack[:runtime.Callers(2, stack)],
			Message:    message,
			Cause:      cause,
			ErrorStack: make([]error, 0),
		}
	}

	return leafError
}

func indentString(input string, indentSpaces int, numbering bool) string {
	if input == "" {
		return ""
	}
	lines := strings.Split(input, "\n")
	indent := strings.Repeat(" ", indentSpaces)
	const numberWidth = 2

	for i, line := range lines {
		if numbering {
			if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
				lines[i] = indent + strings.Repeat(" ", numberWidth) + "  " + line
			} else {
				lines[i] = fmt.Sprintf("%s%*d: %s", indent, numberWidth, i+1, line)
			}
		} else {
			lines[i] = indent + line
		}
	}
	return strings.Join(lines, "\n")
}

func (e *LeafError) Format(f fmt.State, c rune) {
	switch c {
	case 'v':
		var (
			tmpErrEmoji   string
			tmpHintEmoji  string
			tmpStackEmoji string
		)
		if !color.NoColor {
			tmpErrEmoji = errEmoji + " "
			tmpHintEmoji = hintEmoji + " "
			tmpStackEmoji = stackEmoji + " "
		}

		var output string

		if e.NodeId != "" {
			output += fmt.Sprintf("%s%s\n%s\n", tmpErrEmoji, bold("error:"), indentString(contextColor(fmt.Sprintf("node '%s'", e.NodeId)), 2, true))
			output += errorColor(indentString(e.ErrorWithCauses(), 6, false))
		} else {
			errorBlock := indentString(e.ErrorWithCauses(), 2, true)
			output += fmt.Sprintf("%s%s\n%s", tmpErrEmoji, bold("error:"), errorColor(errorBlock))
		}

		hint := indentString(getErrorHint(e), 2, false)
		if hint != "" {
			output += fmt.Sprintf("\n\n%s%s\n%s", tmpHintEmoji, bold("hint:"), hintColor(hint))
		}

		if f.Flag('+') {
			lines := strings.Split(e.StackTrace(), "\n")
			var coloredLines []string
			for _, line := range lines {
				coloredLines = append(coloredLines, stackTraceColor(line))
			}

			output += fmt.Sprintf("\n\n%s%s\n%s",
				tmpStackEmoji,
				stackTraceColor(bold("stack trace:")),
				strings.Join(coloredLines, "\n"),
			)
		}

		fmt.Fprint(f, output)
		return
	case 's':
		fmt.Fprint(f, e.Error())
	}
}

func (e *LeafError) StackTrace() string {
	return GetStacktrace(e.GoStack)
}

func isCombinedError(err error) bool {
	joinedError, ok := err.(interface {
		Unwrap() []error
	})
	if !ok {
		return false
	}

	return len(joinedError.Unwrap()) > 0
}

func PrintError(workflowFile string, err error) {
	if isCombinedError(err) {
		joined := err.(interface{ Unwrap() []error })
		for i, e := range joined.Unwrap() {
			printError(workflowFile, e, i)
		}
		return
	}

	printError(workflowFile, err, -1)
}

func printError(workflowFile string, err error, index int) {
	output := ""

	if index >= 0 {
		output += fmt.Sprintf("%s %s\n   %d\n\n", numberEmoji, bold("error index:"), index)
	}

	switch utils.GetLogLevel() {
	case utils.LogLevelNormal:
		output += fmt.Sprintf("%v\n", err)
	default:
		output += fmt.Sprintf("%+v\n", err)
	}

	if workflowFile != "" {
		utils.LogErr.Errorf("flowrun: %s\n\n", workflowFile)
	}

	utils.LogErr.Error(output)
}

func getErrorHint(leafError *LeafError) string {
	if leafError == nil {
		return "No error."
	}

	if leafError.Hint != "" {
		return leafError.Hint
	}

	err := leafError.Cause
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrUnknownNodeKind):
		return "The document references a node type this version does not know. Run 'flowrun nodes' to list the available types."

	case errors.Is(err, ErrUnsupportedVersion):
		return "The document was written by a different version of the workflow format. Re-export it with a matching version."

	case errors.Is(err, ErrInvalidFormat):
		return "The document must be a JSON object with 'version', 'nodes' and 'edges' fields."

	case errors.Is(err, ErrSchemaValidation):
		return "A node's data does not match its type. Fix or remove the listed fields."

	case errors.Is(err, ErrCycleDetected):
		return "Workflows must not contain loops. Remove one of the connections that forms the cycle."

	case errors.Is(err, context.Canceled):
		return "The run was cancelled before all nodes finished."

	case errors.Is(err, context.DeadlineExceeded):
		return "The run exceeded its deadline. Increase the timeout or check the slow node."

	case errors.Is(err, os.ErrNotExist):
		return "The specified file or directory does not exist. Check the path and try again."

	case errors.Is(err, os.ErrPermission):
		return "You do not have the necessary permissions to perform this action. Try running the command with elevated privileges."

	case errors.Is(err, sql.ErrNoRows):
		return "No matching records found in the database. Verify your query or ensure the data exists."

	case errors.Is(err, sql.ErrConnDone):
		return "The database connection is closed. Check your database connection settings."

	case errors.Is(err, net.ErrClosed):
		return "The network connection is closed. Verify your network settings and try reconnecting."

	case errors.Is(err, syscall.ECONNREFUSED):
		return "Connection refused. Ensure the server is running and accepting connections."

	case errors.Is(err, syscall.ETIMEDOUT):
		return "Connection timed out. Check your network connection and try again."

	case strings.Contains(err.Error(), "authentication failed"):
		return "Authentication failed. Verify your credentials and try again."

	case strings.Contains(err.Error(), "syntax error"):
		return "Syntax error. Check the syntax of your input and try again."
	}

	return ""
}

func GetStacktrace(stack []uintptr) string {
	var buffer bytes.Buffer
	frames := runtime.CallersFrames(stack)

	for {
		frame, more := frames.Next()

		file := frame.File
		if IsTestE2eRunning() {
			// deterministic output for golden tests
			file = filepath.Base(file)
			frame.Line = -1
		}

		buffer.WriteString(fmt.Sprintf("%s\n\t%s:%d\n", frame.Function, file, frame.Line))
		if !more {
			break
		}
	}

	return buffer.String()
}

func RecoverHandler(repanic bool) {
	err := recover()
	if err != nil {
		fmt.Println("🐛 Oops! The process crashed. Please report this issue.")
		fmt.Println()

		stack := make([]uintptr, 256)
		n := runtime.Callers(0, stack[:])
		fmt.Println(GetStacktrace(stack[:n]))

		if repanic {
			panic(err)
		}
	}
}

func IsTestE2eRunning() bool {
	val := strings.ToLower(os.Getenv("ACT_TESTE2E"))
	return val == "1" || val == "true"
}
