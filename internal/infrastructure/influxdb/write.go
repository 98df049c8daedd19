package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// MeasurementAccessAttempt is the measurement every validation is written to.
const MeasurementAccessAttempt = "access_attempt"

// AccessAttempt is one validation outcome.
//
// Outcome, method, source and reason are low-cardinality tags; the user id
// is a field so it does not explode series cardinality.
type AccessAttempt struct {
	Granted  bool
	Method   string
	Source   string
	Reason   string
	UserID   string
	UserName string
	At       time.Time
}

// WriteAccessAttempt records a validation outcome. Non-blocking.
func (c *Client) WriteAccessAttempt(a AccessAttempt) {
	outcome := "refused"
	granted := 0
	if a.Granted {
		outcome = "granted"
		granted = 1
	}

	tags := map[string]string{
		"outcome": outcome,
		"method":  a.Method,
		"source":  a.Source,
	}
	if a.Reason != "" {
		tags["reason"] = a.Reason
	}

	fields := map[string]any{"granted": granted}
	if a.UserID != "" {
		fields["user_id"] = a.UserID
		fields["user_name"] = a.UserName
	}

	at := a.At
	if at.IsZero() {
		at = time.Now()
	}
	c.WritePointWithTime(MeasurementAccessAttempt, tags, fields, at)
}

// WritePointWithTime writes a custom point with an explicit timestamp.
func (c *Client) WritePointWithTime(measurement string, tags map[string]string, fields map[string]any, timestamp time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writer.WritePoint(write.NewPoint(measurement, tags, fields, timestamp))
}
