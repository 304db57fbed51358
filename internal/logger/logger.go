package logger

import (
	"strings"

	"go.uber.org/zap"
)

type Logger struct {
	SugaredLogger *zap.SugaredLogger
}

func New(mode string) (*Logger, error) {
	var cfg zap.Config
	switch strings.ToLower(mode) {
	case "prod", "production":
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	default:
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	}
	zapLogger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	sugar := zapLogger.Sugar()
	return &Logger{SugaredLogger: sugar}, nil
}

func (l *Logger) Sync() {
	_ = l.SugaredLogger.Sync()
}

func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Debugw(msg, redactPairs(keysAndValues)...)
}
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Infow(msg, redactPairs(keysAndValues)...)
}
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Warnw(msg, redactPairs(keysAndValues)...)
}
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Errorw(msg, redactPairs(keysAndValues)...)
}
func (l *Logger) Fatal(msg string, keysAndValues ...interface{}) {
	l.SugaredLogger.Fatalw(msg, redactPairs(keysAndValues)...)
}
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	newSugared := l.SugaredLogger.With(redactPairs(keysAndValues)...)
	return &Logger{SugaredLogger: newSugared}
}

// Keys whose values never belong in log output: cookie paths are fine,
// cookie contents, API keys and proxy credentials are not.
var secretKeyParts = []string{"api_key", "apikey", "token", "secret", "password", "authorization"}

func redactPairs(kv []interface{}) []interface{} {
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		lower := strings.ToLower(key)
		for _, part := range secretKeyParts {
			if strings.Contains(lower, part) {
				kv[i+1] = "[redacted]"
				break
			}
		}
		if lower == "proxy" {
			if s, ok := kv[i+1].(string); ok {
				kv[i+1] = redactProxyAuth(s)
			}
		}
	}
	return kv
}

func redactProxyAuth(proxy string) string {
	at := strings.LastIndex(proxy, "@")
	if at < 0 {
		return proxy
	}
	scheme := ""
	rest := proxy
	if idx := strings.Index(proxy, "://"); idx >= 0 {
		scheme = proxy[:idx+3]
		rest = proxy[idx+3:]
		at = strings.LastIndex(rest, "@")
		if at < 0 {
			return proxy
		}
	}
	return scheme + "[redacted]@" + rest[at+1:]
}
