// Package mqtt provides MQTT client connectivity for the access controller.
//
// This package manages:
//   - Connection to the broker with auto-reconnect and subscription restore
//   - Publishing with QoS and a payload size limit
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament on graylogic/access/status
//   - Topic builders and parsers for the access topic hierarchy
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllValidate(), 1,
//	    func(topic string, payload []byte) error {
//	        method, source, _ := mqtt.Topics{}.ParseValidate(topic)
//	        ...
//	    })
//
// # Security Considerations
//
//   - Validation requests carry plaintext codes; use TLS (cfg.Broker.TLS=true)
//     and broker ACLs restricting who may publish and subscribe under
//     graylogic/access
//   - Anonymous access is only for local development
package mqtt
