package logger

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/nijaru/yt-transcript/config"
	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// New builds a logrus logger writing to out and, when cfg.Dir is set, to a
// rotating app.log in that directory.
func New(cfg config.LogConfig, out io.Writer) (*logrus.Logger, error) {
	log := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if strings.EqualFold(cfg.Format, "json") {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if out == nil {
		out = os.Stderr
	}

	if cfg.Dir == "" {
		log.SetOutput(out)
		return log, nil
	}

	if err := os.MkdirAll(cfg.Dir, os.ModePerm); err != nil {
		return nil, err
	}

	logFile := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.Dir, "app.log"),
		MaxSize:    10,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(out, logFile))

	return log, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
