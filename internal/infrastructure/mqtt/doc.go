// Package mqtt connects driverd to the MQTT broker.
//
// driverd publishes on the broker:
//   - retained field state, one topic per field
//   - retained instance lifecycle status
//   - trigger events (LoadChange, UserAction)
//
// and subscribes to backdoor commands addressed to an instance. All topics
// live under a configurable prefix; see Topics.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := client.Topics().FieldState("zw-main", "LGHT#Sw_Hall")
//	err = client.PublishRetained(topic, []byte("True"))
//
// The system status topic carries a retained presence message: "online"
// after every connect, "stopped" on Close, and "lost" (the will) when the
// process dies without closing the connection.
package mqtt
