package log

import (
	"os"
	"time"

	"github.com/hashicorp/go-hclog"
)

// Output is the sink a Logger writes formatted lines to.
type Output interface {
	Write(t time.Time, debug bool, s string)
}

// hclogOutput adapts maddy-style Printf/Debugf/Msg calls onto a structured
// hashicorp/go-hclog logger, so every line gets consistent leveling and
// optional JSON formatting for free.
type hclogOutput struct {
	hl hclog.Logger
}

// HCLogOutput builds an Output backed by hclog. If base is nil, a new
// hclog.Logger is created writing to stderr with the "ashpost" name.
func HCLogOutput(base hclog.Logger) Output {
	if base == nil {
		base = hclog.New(&hclog.LoggerOptions{
			Name:            "ashpost",
			Level:           hclog.Info,
			Output:          os.Stderr,
			IncludeLocation: false,
		})
	}
	return hclogOutput{hl: base}
}

func (o hclogOutput) Write(t time.Time, debug bool, s string) {
	if debug {
		o.hl.Debug(s)
		return
	}
	o.hl.Info(s)
}

// SetDebug reconfigures the default logger's hclog backend to emit at Debug
// level, used when a server is started with verbose logging enabled.
func SetDebug(enabled bool) {
	level := hclog.Info
	if enabled {
		level = hclog.Debug
	}
	DefaultLogger.Out = HCLogOutput(hclog.New(&hclog.LoggerOptions{
		Name:   "ashpost",
		Level:  level,
		Output: os.Stderr,
	}))
	DefaultLogger.Debug = enabled
}
