// Package testlog configures logging for tests and brackets each test in the log.
package testlog

import (
	"testing"
	"time"

	"github.com/danmuck/chatlink/internal/logging"
	logs "github.com/danmuck/smplog"
)

func Start(t testing.TB) {
	t.Helper()
	logging.ConfigureTests()
	start := time.Now()
	logs.Infof("test=%s", t.Name())
	t.Cleanup(func() {
		if t.Failed() {
			logs.Warnf("test=%s failed elapsed=%s", t.Name(), time.Since(start))
			return
		}
		logs.Debugf("test=%s passed elapsed=%s", t.Name(), time.Since(start))
	})
}
