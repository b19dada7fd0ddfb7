package utils

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Logger = logrus.New()

// appFieldHook stamps every entry with the service name.
type appFieldHook string

func (h appFieldHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h appFieldHook) Fire(entry *logrus.Entry) error {
	entry.Data["app"] = string(h)
	return nil
}

// InitLogger configures Logger from LOG_LEVEL (default info) and
// LOG_FORMAT ("text" or "json", default text).
func InitLogger(appName string) {
	configureLogger(Logger, appName, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT"))
}

func configureLogger(l *logrus.Logger, appName, level, format string) {
	l.SetOutput(os.Stdout)

	lvl := logrus.InfoLevel
	if level = strings.TrimSpace(level); level != "" {
		parsed, err := logrus.ParseLevel(level)
		if err != nil {
			l.Warnf("Unknown LOG_LEVEL %q, using info", level)
		} else {
			lvl = parsed
		}
	}
	l.SetLevel(lvl)

	if strings.EqualFold(strings.TrimSpace(format), "json") {
		l.SetFormatter(&logrus.JSONFormatter{})
	} else {
		l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	l.AddHook(appFieldHook(appName))
}
