package logger

import (
	"go.uber.org/zap"
)

// Domain symbols used to tag log lines by subsystem, queryable as a structured
// field rather than embedded in the message text.
const (
	SymbolRouter   = "→" // request routing decisions
	SymbolProvider = "◉" // upstream provider adapter activity
	SymbolPool     = "⊟" // connection pool lifecycle
	SymbolBreaker  = "⚡" // circuit breaker transitions
	SymbolCache    = "▦" // response cache hits/evictions
	SymbolWorker   = "꩜" // supervised worker lifecycle
	SymbolConfig   = "⚙" // configuration load/reload
	SymbolGateway  = "▣" // HTTP admission and request handling
)

// Symbol-aware logging helpers.
//
// Usage:
//
//	// Instead of:
//	logger.Infow(SymbolBreaker + " state transition", "provider", name)
//
//	// Use:
//	logger.BreakerInfow("state transition", "provider", name)
//
// This makes logs queryable by symbol and keeps messages clean.

// RouterInfow logs an info message tagged with the router symbol.
func RouterInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymbolRouter}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// ProviderInfow logs an info message tagged with the provider symbol.
func ProviderInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymbolProvider}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// ProviderWarnw logs a warning message tagged with the provider symbol.
func ProviderWarnw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymbolProvider}, keysAndValues...)
		Logger.Warnw(msg, fields...)
	}
}

// PoolInfow logs an info message tagged with the connection pool symbol.
func PoolInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymbolPool}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// BreakerInfow logs an info message tagged with the circuit breaker symbol.
func BreakerInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymbolBreaker}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// CacheDebugw logs a debug message tagged with the response cache symbol.
func CacheDebugw(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymbolCache}, keysAndValues...)
		Logger.Debugw(msg, fields...)
	}
}

// WorkerInfow logs an info message tagged with the supervised worker symbol.
func WorkerInfow(msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, SymbolWorker}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}

// WithSymbol returns a logger with the given symbol as a field, for ad-hoc
// symbol usage not covered by the helpers above.
func WithSymbol(symbol string) *zap.SugaredLogger {
	return Logger.With(FieldSymbol, symbol)
}

// SymbolInfow logs with any symbol - for dynamic symbol usage.
func SymbolInfow(symbol, msg string, keysAndValues ...interface{}) {
	if Logger != nil {
		fields := append([]interface{}{FieldSymbol, symbol}, keysAndValues...)
		Logger.Infow(msg, fields...)
	}
}
