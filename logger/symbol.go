package logger

import (
	"go.uber.org/zap"

	"github.com/teranos/cadence/sym"
)

// FieldSymbol carries the glyph that tags a log line's subsystem
const FieldSymbol = "symbol"

// WithSymbol tags every entry written through l with glyph
func WithSymbol(l *zap.SugaredLogger, glyph string) *zap.SugaredLogger {
	return l.With(FieldSymbol, glyph)
}

// AddPulseSymbol tags l with the firing glyph (꩜)
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.Pulse)
}

// AddPulseOpenSymbol tags l with the startup glyph (✿)
func AddPulseOpenSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.PulseOpen)
}

// AddPulseCloseSymbol tags l with the shutdown glyph (❀)
func AddPulseCloseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.PulseClose)
}

// AddDBSymbol tags l with the storage glyph (⊔)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return WithSymbol(l, sym.DB)
}
