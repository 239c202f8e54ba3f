package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/flashsale"
)

var _ flashsale.Logger = LogrusLogger{}

type LogrusLogger struct{ E *logrus.Entry }

// New returns a JSON logrus logger at level.
func New(level string) (LogrusLogger, error) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return LogrusLogger{}, err
	}
	l := logrus.New()
	l.SetLevel(lvl)
	l.SetFormatter(&logrus.JSONFormatter{})
	return LogrusLogger{E: logrus.NewEntry(l)}, nil
}

func (l LogrusLogger) Debug(msg string, f flashsale.Fields) {
	l.E.WithFields(logrus.Fields(f)).Debug(msg)
}
func (l LogrusLogger) Info(msg string, f flashsale.Fields) { l.E.WithFields(logrus.Fields(f)).Info(msg) }
func (l LogrusLogger) Warn(msg string, f flashsale.Fields) { l.E.WithFields(logrus.Fields(f)).Warn(msg) }
func (l LogrusLogger) Error(msg string, f flashsale.Fields) {
	l.E.WithFields(logrus.Fields(f)).Error(msg)
}
