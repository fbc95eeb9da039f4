package cmd

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// initLog parses and applies the log flags. Logs go to stderr so command
// output (connection strings, container logs) stays clean on stdout.
func initLog(level, file string) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return errors.Wrapf(err, "parse log level %q", level)
	}
	log.SetLevel(lvl)
	log.SetOutput(os.Stderr)

	if file != "" && file != "console" {
		log.SetOutput(&lumberjack.Logger{
			Filename:   filepath.ToSlash(file),
			MaxSize:    5, // MB
			MaxBackups: 3,
			MaxAge:     30, // days
			Compress:   true,
		})
	}
	return nil
}
