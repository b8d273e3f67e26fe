// Package log implements a minimalistic, stateless logging library used by
// every session and component in ashpost.
//
// Logger is copied by value; the only shared state lives in the underlying
// Output. Each message is prefixed with the logger's Name, and leveled calls
// forward to the Output, which in the default configuration is backed by
// hashicorp/go-hclog.
package log

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Logger writes formatted output to the underlying Output.
type Logger struct {
	Out   Output
	Name  string
	Debug bool

	// Fields are additional key-value pairs appended to every message
	// logged through this Logger (see Msg).
	Fields []interface{}
}

// WithFields returns a copy of l with additional persistent fields.
func (l Logger) WithFields(kv ...interface{}) Logger {
	l.Fields = append(append([]interface{}{}, l.Fields...), kv...)
	return l
}

func (l Logger) Debugf(format string, val ...interface{}) {
	if !l.Debug {
		return
	}
	l.log(true, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

func (l Logger) Debugln(val ...interface{}) {
	if !l.Debug {
		return
	}
	l.log(true, l.formatMsg(strings.TrimRight(fmt.Sprintln(val...), "\n"), nil))
}

func (l Logger) Printf(format string, val ...interface{}) {
	l.log(false, l.formatMsg(fmt.Sprintf(format, val...), nil))
}

func (l Logger) Println(val ...interface{}) {
	l.log(false, l.formatMsg(strings.TrimRight(fmt.Sprintln(val...), "\n"), nil))
}

// Msg writes a structured log message: "name: msg (key=value; key2=value2)".
func (l Logger) Msg(msg string, fields ...interface{}) {
	l.log(false, l.formatMsg(msg, fields))
}

// DebugMsg is like Msg but only emitted when Debug is set.
func (l Logger) DebugMsg(msg string, fields ...interface{}) {
	if !l.Debug {
		return
	}
	l.log(true, l.formatMsg(msg, fields))
}

// FieldsProvider is implemented by errors that want extra structured fields
// to be attached to the log line produced by Error.
type FieldsProvider interface {
	Fields() map[string]interface{}
}

// Error logs msg with the error's text and any structured fields it carries.
func (l Logger) Error(msg string, err error, fields ...interface{}) {
	var errFields map[string]interface{}
	if fp, ok := err.(FieldsProvider); ok {
		errFields = fp.Fields()
	}

	keys := make([]string, 0, len(errFields))
	for k := range errFields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	all := make([]interface{}, 0, len(fields)+len(errFields)*2+2)
	all = append(all, "reason", err.Error())
	for _, k := range keys {
		all = append(all, k, errFields[k])
	}
	all = append(all, fields...)

	l.log(false, l.formatMsg(msg, all))
}

func (l Logger) formatMsg(msg string, ctx []interface{}) string {
	b := strings.Builder{}
	b.WriteString(msg)

	all := append(append([]interface{}{}, ctx...), l.Fields...)
	if len(all) != 0 {
		b.WriteString(" (")
		formatFields(&b, all)
		b.WriteString(")")
	}
	return b.String()
}

func formatFields(b *strings.Builder, ctx []interface{}) {
	for i := 0; i+1 < len(ctx); i += 2 {
		if i != 0 {
			b.WriteString("; ")
		}
		fmt.Fprintf(b, "%s=%s", ctx[i], formatVal(ctx[i+1]))
	}
}

func formatVal(val interface{}) string {
	switch val := val.(type) {
	case string:
		return strconv.Quote(val)
	case time.Duration:
		return val.String()
	case time.Time:
		return val.Format(time.RFC3339)
	case fmt.Stringer:
		return strconv.Quote(val.String())
	default:
		return fmt.Sprintf("%v", val)
	}
}

func (l Logger) log(debug bool, s string) {
	if l.Name != "" {
		s = l.Name + ": " + s
	}
	if l.Out != nil {
		l.Out.Write(time.Now(), debug, s)
		return
	}
	if DefaultLogger.Out != nil {
		DefaultLogger.Out.Write(time.Now(), debug, s)
	}
}

// DefaultLogger is used by the package-level logging functions below.
var DefaultLogger = Logger{Out: HCLogOutput(nil)}

func Debugf(format string, val ...interface{}) { DefaultLogger.Debugf(format, val...) }
func Printf(format string, val ...interface{}) { DefaultLogger.Printf(format, val...) }
func Println(val ...interface{})               { DefaultLogger.Println(val...) }
