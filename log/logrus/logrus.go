// Package logrus adapts a *logrus.Entry to capcache.Logger.
package logrus

import (
	"github.com/sirupsen/logrus"

	"github.com/unkn0wn-root/capcache"
)

var _ capcache.Logger = Logger{}

type Logger struct{ E *logrus.Entry }

func New(l *logrus.Logger) Logger {
	return Logger{E: logrus.NewEntry(l).WithField("component", "capcache")}
}

func (l Logger) Debug(msg string, f capcache.Fields) { l.entry(f).Debug(msg) }
func (l Logger) Info(msg string, f capcache.Fields)  { l.entry(f).Info(msg) }
func (l Logger) Warn(msg string, f capcache.Fields)  { l.entry(f).Warn(msg) }
func (l Logger) Error(msg string, f capcache.Fields) { l.entry(f).Error(msg) }

// entry moves an "err" field to logrus' error key.
func (l Logger) entry(f capcache.Fields) *logrus.Entry {
	if len(f) == 0 {
		return l.E
	}
	lf := make(logrus.Fields, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok && k == "err" {
			lf[logrus.ErrorKey] = err
			continue
		}
		lf[k] = v
	}
	return l.E.WithFields(lf)
}
