package logger

// PrefixedLogger decorates a Logger so every message carries a fixed
// scope marker, such as the channel a chat line belongs to. Level
// control passes through to the wrapped logger.
type PrefixedLogger struct {
	inner Logger
	tag   string
}

// NewPrefixedLogger wraps inner so each message reads "[prefix] msg".
func NewPrefixedLogger(inner Logger, prefix string) *PrefixedLogger {
	return &PrefixedLogger{
		inner: inner,
		tag:   "[" + prefix + "] ",
	}
}

func (p *PrefixedLogger) wrap(msg string) string {
	return p.tag + msg
}

func (p *PrefixedLogger) SetLogLevel(levelStr string) {
	p.inner.SetLogLevel(levelStr)
}

func (p *PrefixedLogger) GetLogLevel() string {
	return p.inner.GetLogLevel()
}

func (p *PrefixedLogger) Trace(msg string, args ...any) {
	p.inner.Trace(p.wrap(msg), args...)
}

func (p *PrefixedLogger) Debug(msg string, args ...any) {
	p.inner.Debug(p.wrap(msg), args...)
}

func (p *PrefixedLogger) Info(msg string, args ...any) {
	p.inner.Info(p.wrap(msg), args...)
}

func (p *PrefixedLogger) Warn(msg string, args ...any) {
	p.inner.Warn(p.wrap(msg), args...)
}

func (p *PrefixedLogger) Error(msg string, err error, args ...any) {
	p.inner.Error(p.wrap(msg), err, args...)
}

func (p *PrefixedLogger) Fatal(msg string, err error, args ...any) {
	p.inner.Fatal(p.wrap(msg), err, args...)
}
