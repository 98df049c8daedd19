package notify

import (
	"context"

	"github.com/nerrad567/gray-logic-access/internal/access"
	"github.com/nerrad567/gray-logic-access/internal/accesslog"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/mqtt"
)

// Publisher is the part of the MQTT client the MQTT sink needs.
type Publisher interface {
	PublishJSON(topic string, v any) error
}

// MQTT publishes notifications on graylogic/access/event/{type}.
// The presented code or tag is stripped unless IncludeCredentials is set.
type MQTT struct {
	Publisher          Publisher
	IncludeCredentials bool
	Logger             access.Logger
}

// Notify implements access.Notifier.
func (m *MQTT) Notify(_ context.Context, n access.Notification) {
	if !m.IncludeCredentials {
		n = Redact(n)
	}
	if err := m.Publisher.PublishJSON(mqtt.Topics{}.Event(string(n.Type)), n); err != nil && m.Logger != nil {
		m.Logger.Warn("publishing access event failed", "type", n.Type, "source", n.Source, "error", err)
	}
}

// Redact removes the presented credential from a notification.
func Redact(n access.Notification) access.Notification {
	n.Code = ""
	n.Tag = ""
	return n
}

// AccessLog appends notifications to the access log. Credentials are never
// written.
type AccessLog struct {
	Repo   accesslog.Repository
	Logger access.Logger
}

// Notify implements access.Notifier.
func (a *AccessLog) Notify(ctx context.Context, n access.Notification) {
	if err := a.Repo.Create(ctx, accesslog.FromNotification(n)); err != nil && a.Logger != nil {
		a.Logger.Error("writing access log failed", "type", n.Type, "source", n.Source, "error", err)
	}
}

// AttemptWriter is the part of the InfluxDB client the Influx sink needs.
type AttemptWriter interface {
	WriteAccessAttempt(a influxdb.AccessAttempt)
}

// Influx writes one access_attempt point per notification.
type Influx struct {
	Writer AttemptWriter
}

// Notify implements access.Notifier.
func (i *Influx) Notify(_ context.Context, n access.Notification) {
	i.Writer.WriteAccessAttempt(influxdb.AccessAttempt{
		Granted:  n.Type == access.NotificationValidated,
		Method:   string(n.Method),
		Source:   n.Source,
		Reason:   string(n.Reason),
		UserID:   n.UserID,
		UserName: n.UserName,
		At:       n.Timestamp,
	})
}

// ValidationObserver is the part of metrics.Prom the Metrics sink needs.
type ValidationObserver interface {
	ObserveValidation(method string, granted bool, reason string, seconds float64)
}

// Metrics counts verdicts. Durations are observed by the caller that
// timed the validation, so none is recorded here.
type Metrics struct {
	Observer ValidationObserver
}

// Notify implements access.Notifier.
func (m *Metrics) Notify(_ context.Context, n access.Notification) {
	m.Observer.ObserveValidation(string(n.Method), n.Type == access.NotificationValidated, string(n.Reason), -1)
}
