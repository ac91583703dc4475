package core

import (
	"log/slog"
)

// LogConsumer reports request outcomes to the node log
type LogConsumer struct {
	Log *slog.Logger
}

func (c *LogConsumer) UseData(name string, value string) {
	c.Log.Info("received "+name+" with a value of "+value, "name", name, "value", value)
}

func (c *LogConsumer) DataNotFound(name string) {
	c.Log.Warn("data not found", "name", name)
}

func (c *LogConsumer) DataError(name string, err error) {
	c.Log.Error("data could not be used", "name", name, "err", err)
}
