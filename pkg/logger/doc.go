// Package logger provides the structured logging interface used across igarchive.
//
// It wraps zerolog behind a small Logger interface so that packages can log
// with fields without depending on zerolog directly, and so tests can swap
// in a TestLogger that captures what was logged.
//
//	if err := logger.Initialize(&cfg.Logging); err != nil {
//	    return err
//	}
//	log := logger.GetLogger().WithField("account", "jane")
//	log.InfoWithFields("sync finished", map[string]interface{}{"new_items": 3})
package logger
