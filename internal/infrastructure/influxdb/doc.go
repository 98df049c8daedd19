// Package influxdb writes access attempt history to InfluxDB.
//
// It wraps the official influxdb-client-go v2 library with connection
// management, batched non-blocking writes and health checks. Every
// validation becomes one point in the access_attempt measurement, which
// dashboards use for per-door and per-reason trends.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	client.WriteAccessAttempt(influxdb.AccessAttempt{Granted: true, Method: "code", Source: "front-door"})
//
// # Error Handling
//
// Writes never block and never return errors; batch failures are delivered
// through SetOnError. Connection and health check errors are returned.
package influxdb
