// Package logging provides structured logging for the hostbind runtime.
//
// This package wraps Go's log/slog to produce JSON-formatted logs with
// persistent context attributes. Runtime events that matter for post-hoc
// analysis (objects destroyed while bound, leaked payloads, borrow conflicts
// under the blocking policy) are logged with the instance ID, class name and
// thread that observed them.
//
// # Thread Safety
//
// [Logger] is safe for concurrent use. Child loggers created via With* methods
// share the underlying handler.
//
// # Basic Usage
//
//	logger, err := logging.NewLogger("/path/to/logs", "INFO")
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.WithClass("Player").WithInstance(id.String()).
//	    Warn("payload leaked", "reason", "destroyed while bound")
//
// Output:
//
//	{"time":"...","level":"WARN","msg":"payload leaked","class":"Player","instance_id":"42","reason":"destroyed while bound"}
//
// When the directory is empty, logs go to stderr. [NopLogger] discards all
// output and is the default for runtimes created without a logger.
package logging
