package regalloc

import "github.com/sirupsen/logrus"

type logFields = logrus.Fields

// tracef emits one decision-trace entry. The trace is diagnostic tooling
// only; with no logger configured it costs a nil check.
func (c *Context) tracef(msg string, fields logFields) {
	if c.Log == nil {
		return
	}
	c.Log.WithFields(fields).Debug(msg)
}
