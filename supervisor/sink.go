package supervisor

import "go.uber.org/zap"

// Sink is the supervisor's diagnostic handle, generalising the
// teacher's debug-flag-gated fmt.Fprintln calls into a small
// interface so no process-wide logger is required.
type Sink interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
}

// noopSink discards everything; used when the caller passes nil.
type noopSink struct{}

func (noopSink) Debugf(string, ...interface{}) {}
func (noopSink) Infof(string, ...interface{})  {}
func (noopSink) Warnf(string, ...interface{})  {}

// ZapSink adapts a zap.SugaredLogger to the Sink interface.
type ZapSink struct {
	log *zap.SugaredLogger
}

// NewZapSink wraps an existing *zap.Logger.
func NewZapSink(l *zap.Logger) ZapSink {
	return ZapSink{log: l.Sugar()}
}

func (s ZapSink) Debugf(format string, args ...interface{}) { s.log.Debugf(format, args...) }
func (s ZapSink) Infof(format string, args ...interface{})  { s.log.Infof(format, args...) }
func (s ZapSink) Warnf(format string, args ...interface{})  { s.log.Warnf(format, args...) }

func sinkOrNoop(s Sink) Sink {
	if s == nil {
		return noopSink{}
	}
	return s
}
