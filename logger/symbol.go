package logger

import (
	"go.uber.org/zap"

	"github.com/teranos/ytmp3/sym"
)

// Symbol-aware logging helpers.
// These attach the component symbol as a structured field, not in the message.
//
// Usage:
//
//	// Instead of:
//	log.Infow(sym.Janitor + " Sweep complete", "count", n)
//
//	// Use:
//	log = logger.AddJanitorSymbol(log)
//	log.Infow("Sweep complete", "count", n)

// WithSymbol returns the global logger tagged with symbol.
func WithSymbol(symbol string) *zap.SugaredLogger {
	return Logger.With(FieldSymbol, symbol)
}

// AddSymbol tags l with symbol.
func AddSymbol(l *zap.SugaredLogger, symbol string) *zap.SugaredLogger {
	return l.With(FieldSymbol, symbol)
}

// AddPulseSymbol tags l with the Pulse symbol (꩜)
func AddPulseSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.Pulse)
}

// AddDispatchSymbol tags l with the Dispatch symbol (⟶)
func AddDispatchSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.Dispatch)
}

// AddJanitorSymbol tags l with the Janitor symbol (⌫)
func AddJanitorSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.Janitor)
}

// AddWatchSymbol tags l with the Watch symbol (◎)
func AddWatchSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.Watch)
}

// AddServerSymbol tags l with the Server symbol (⌂)
func AddServerSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.Server)
}

// AddChatSymbol tags l with the Chat symbol (✉)
func AddChatSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.Chat)
}

// AddDBSymbol tags l with the DB symbol (⊔)
func AddDBSymbol(l *zap.SugaredLogger) *zap.SugaredLogger {
	return AddSymbol(l, sym.DB)
}

// PulseOpenInfow logs an info message with the PulseOpen symbol (✿)
// Used for graceful startup operations
func PulseOpenInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.PulseOpen}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// PulseCloseInfow logs an info message with the PulseClose symbol (❀)
// Used for graceful shutdown operations
func PulseCloseInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, sym.PulseClose}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}
