package model

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

// ErrorInfo is the serializable description of an error attached to an event.
// Method metadata (Source, MethodName, ModuleName) is only known when the
// error carries a stack trace; it stays empty otherwise.
type ErrorInfo struct {
	Message     string `json:"message,omitempty"`
	BaseMessage string `json:"base_message,omitempty"`
	Text        string `json:"text,omitempty"`
	Type        string `json:"type,omitempty"`
	Code        int    `json:"code,omitempty"`
	Source      string `json:"source,omitempty"`
	MethodName  string `json:"method_name,omitempty"`
	ModuleName  string `json:"module_name,omitempty"`
}

type stackTracer interface {
	StackTrace() pkgerrors.StackTrace
}

type coder interface {
	Code() int
}

type exitCoder interface {
	ExitCode() int
}

// NewErrorInfo describes err. It returns nil for a nil error.
func NewErrorInfo(err error) *ErrorInfo {
	if IsNil(err) {
		return nil
	}

	info := &ErrorInfo{
		Message: err.Error(),
		Text:    fmt.Sprintf("%+v", err),
		Type:    fmt.Sprintf("%T", err),
		Code:    errorCode(err),
	}

	root := rootCause(err)
	info.BaseMessage = root.Error()

	if frame, ok := originFrame(err); ok {
		info.Source, info.MethodName, info.ModuleName = describeFrame(frame)
	}
	return info
}

func rootCause(err error) error {
	for {
		if next := errors.Unwrap(err); !IsNil(next) {
			err = next
			continue
		}
		if c, ok := err.(interface{ Cause() error }); ok && !IsNil(c.Cause()) && c.Cause() != err {
			err = c.Cause()
			continue
		}
		return err
	}
}

func errorCode(err error) int {
	var c coder
	if errors.As(err, &c) {
		return c.Code()
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return int(errno)
	}
	var ec exitCoder
	if errors.As(err, &ec) {
		return ec.ExitCode()
	}
	return 0
}

// originFrame returns the first frame of the deepest stack trace in the chain.
func originFrame(err error) (pkgerrors.Frame, bool) {
	var (
		found pkgerrors.Frame
		ok    bool
	)
	for !IsNil(err) {
		if st, isTracer := err.(stackTracer); isTracer {
			if trace := st.StackTrace(); len(trace) > 0 {
				found, ok = trace[0], true
			}
		}
		if next := errors.Unwrap(err); next != nil {
			err = next
			continue
		}
		if c, isCauser := err.(interface{ Cause() error }); isCauser && c.Cause() != err {
			err = c.Cause()
			continue
		}
		break
	}
	return found, ok
}

func describeFrame(frame pkgerrors.Frame) (source, method, module string) {
	pc := uintptr(frame) - 1
	fn := runtime.FuncForPC(pc)
	if fn == nil {
		return "", "", ""
	}
	file, line := fn.FileLine(pc)
	source = fmt.Sprintf("%s:%d", file, line)
	module, method = splitFuncName(fn.Name())
	return source, method, module
}

// splitFuncName splits "example.com/a/pkg.(*T).M" into ("example.com/a/pkg", "(*T).M").
func splitFuncName(name string) (string, string) {
	slash := strings.LastIndex(name, "/")
	dot := strings.Index(name[slash+1:], ".")
	if dot < 0 {
		return "", name
	}
	dot += slash + 1
	return name[:dot], name[dot+1:]
}
