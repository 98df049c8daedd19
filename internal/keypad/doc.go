// Package keypad connects keypads and management tools to the access engine
// over MQTT.
//
// Keypads publish presented credentials on
//
//	graylogic/access/validate/{code|tag}/{source}   {"request_id":"r1","code":"1234"}
//
// and receive the verdict on graylogic/access/response/{request_id}:
//
//	{"request_id":"r1","valid":true,"user_name":"Alice","source":"front-door","access_time":5}
//
// Management tools publish on graylogic/access/command/{op} and receive
// {"request_id","ok","error","field","data"} on the same response topic.
//
// Validation requests are rate limited per source with a token bucket. A
// throttled request is answered with reason RATE_LIMITED and never reaches
// the engine, so it produces no notification.
//
// Thread Safety:
//   - Handlers run on the MQTT client's goroutines; all state is synchronised.
package keypad
