// Package diag carries the diagnostics produced by parsing, evaluation and
// addon callbacks. A Diagnostic implements error so addon code can bubble it
// through ordinary return paths.
package diag

import "fmt"

type Severity int

const (
	SeverityError Severity = iota
	SeverityWarning
	SeverityNote
)

func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityNote:
		return "note"
	}
	return "unknown"
}

// Class buckets diagnostics by origin.
type Class string

const (
	ClassParse      Class = "parse"
	ClassReference  Class = "reference"
	ClassTyping     Class = "typing"
	ClassCircular   Class = "circular"
	ClassEvaluation Class = "evaluation"
	ClassAddon      Class = "addon"
	ClassCancel     Class = "cancel"
)

// Pos is a source position; Byte is an offset into the file.
type Pos struct {
	Line   int `json:"line"`
	Column int `json:"column"`
	Byte   int `json:"byte"`
}

// Range locates a diagnostic in runbook source.
type Range struct {
	Filename string `json:"filename"`
	Start    Pos    `json:"start"`
	End      Pos    `json:"end"`
}

type Diagnostic struct {
	Severity Severity `json:"severity"`
	Class    Class    `json:"class,omitempty"`
	Message  string   `json:"message"`
	Span     *Range   `json:"span,omitempty"`
	// ConstructName is filled by the driver when attributing a diagnostic
	// to the construct whose evaluation produced it.
	ConstructName string `json:"construct_name,omitempty"`
}

func Errorf(class Class, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Severity: SeverityError,
		Class:    class,
		Message:  fmt.Sprintf(format, args...),
	}
}

func Warningf(class Class, format string, args ...any) *Diagnostic {
	return &Diagnostic{
		Severity: SeverityWarning,
		Class:    class,
		Message:  fmt.Sprintf(format, args...),
	}
}

// FromError wraps an addon error.
func FromError(err error) *Diagnostic {
	return &Diagnostic{Severity: SeverityError, Class: ClassAddon, Message: err.Error()}
}

func (d *Diagnostic) Error() string {
	if d.Span != nil {
		return fmt.Sprintf("%s:%d,%d: %s", d.Span.Filename, d.Span.Start.Line, d.Span.Start.Column, d.Message)
	}
	return d.Message
}

func (d *Diagnostic) IsError() bool {
	return d.Severity == SeverityError
}

// WithSpan returns a copy located at r; the original span, once set, is
// never overwritten.
func (d *Diagnostic) WithSpan(r *Range) *Diagnostic {
	if d.Span != nil || r == nil {
		return d
	}
	out := *d
	out.Span = r
	return &out
}

// WithConstruct returns a copy attributed to the named construct.
func (d *Diagnostic) WithConstruct(name string) *Diagnostic {
	out := *d
	out.ConstructName = name
	return &out
}

func (d *Diagnostic) Equal(other *Diagnostic) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.Severity == other.Severity && d.Class == other.Class && d.Message == other.Message
}
