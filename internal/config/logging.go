package config

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// GetLogLevel parses LogLevel into a logrus level.
func (c Config) GetLogLevel() (log.Level, error) {
	return log.ParseLevel(c.LogLevel)
}

// SetupLogging configures the package level logrus logger.
func (c Config) SetupLogging() error {
	level, err := c.GetLogLevel()
	if err != nil {
		return err
	}
	log.SetLevel(level)
	log.SetOutput(os.Stdout)
	if c.LogFormat == "text" {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	} else {
		log.SetFormatter(&log.JSONFormatter{})
	}
	return nil
}
