// Package logflags routes each layer's diagnostic logging through a
// per-layer flag, so a host can switch on exactly the decode stage it
// is debugging.
package logflags

import (
	"errors"
	"io/ioutil"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var wasmSections = false
var debugInfo = false
var debugLine = false
var symbolizer = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// WasmSections returns true if the wasm section walker should log.
func WasmSections() bool {
	return wasmSections
}

// WasmSectionsLogger returns a logger for the wasm section walker.
func WasmSectionsLogger() *logrus.Entry {
	return makeLogger(wasmSections, logrus.Fields{"layer": "wasm"})
}

// DebugInfo returns true if .debug_info decoding should log its
// recoverable errors.
func DebugInfo() bool {
	return debugInfo
}

// DebugInfoLogger returns a logger for .debug_info decoding.
func DebugInfoLogger() *logrus.Entry {
	return makeLogger(debugInfo, logrus.Fields{"layer": "info"})
}

// DebugLine returns true if line program execution should log its
// recoverable errors.
func DebugLine() bool {
	return debugLine
}

// DebugLineLogger returns a logger for line program execution.
func DebugLineLogger() *logrus.Entry {
	return makeLogger(debugLine, logrus.Fields{"layer": "line"})
}

// Symbolizer returns true if index building and resolution should log.
func Symbolizer() bool {
	return symbolizer
}

// SymbolizerLogger returns a logger for index building and resolution.
func SymbolizerLogger() *logrus.Entry {
	return makeLogger(symbolizer, logrus.Fields{"layer": "symbolizer"})
}

// LogfFor adapts a logrus entry to the logf callback the decode
// packages accept.
func LogfFor(entry *logrus.Entry) func(string, ...interface{}) {
	return entry.Debugf
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(ioutil.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "symbolizer"
	}
	v := strings.Split(logstr, ",")
	for _, logcmd := range v {
		switch logcmd {
		case "wasm":
			wasmSections = true
		case "info":
			debugInfo = true
		case "line":
			debugLine = true
		case "symbolizer":
			symbolizer = true
		}
	}
	return nil
}
