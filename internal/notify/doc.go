// Package notify delivers the engine's notification records.
//
// Every validation produces exactly one access.Notification. The engine hands
// it to a single access.Notifier; this package provides the sinks and the
// plumbing to combine them:
//
//	Engine ──► Queue ──► Fanout ─┬─► MQTT      graylogic/access/event/{type}
//	                             ├─► AccessLog SQLite access_log
//	                             ├─► Influx    access_attempt measurement
//	                             └─► Metrics   Prometheus counters
//
// Queue decouples delivery from the validation path so a slow broker never
// delays a verdict. Sinks log their own failures; nothing is returned to the
// engine.
package notify
