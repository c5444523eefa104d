// Package klog is the kernel's leveled logger. It wraps logrus with the
// teacher's own `debug_println(DEBUG_INFO, "[subsystem] msg")` convention
// (see original_source/src/kernel/proc/task.c) so every subsystem tags its
// own log lines instead of free-form fmt.Printf calls.
package klog

import (
	"os"

	"github.com/sirupsen/logrus"
)

var log = newLogger()

func newLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stdout)
	l.SetFormatter(&logrus.TextFormatter{
		DisableTimestamp: false,
		FullTimestamp:    true,
	})
	l.SetLevel(logrus.InfoLevel)
	return l
}

// SetDebug toggles verbose (DEBUG_INFO-equivalent) logging.
func SetDebug(on bool) {
	if on {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

// Sub returns a tagged entry for one kernel subsystem, e.g. klog.Sub("proc").
// Callers log through the returned entry's own Debugf/Infof/Warnf.
func Sub(subsystem string) *logrus.Entry {
	return log.WithField("subsystem", subsystem)
}
