package main

import (
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// initLogger configures log for the current invocation. Keys are written to
// stdout, so logs always go to w (stderr).
func initLogger(log *logrus.Logger, w io.Writer, c *Config) error {
	switch c.LogFormat {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{
			DisableTimestamp: true,
		})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: time.RFC3339,
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "@timestamp",
			},
		})
	default:
		return fmt.Errorf("unknown log format %q, must be one of text, json", c.LogFormat)
	}

	log.SetOutput(w)
	if c.Debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
	return nil
}
