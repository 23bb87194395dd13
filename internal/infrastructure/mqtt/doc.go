// Package mqtt mirrors the relay onto an MQTT broker.
//
// The client wraps paho.mqtt.golang with auto-reconnect, subscription
// restoration and a Last Will so subscribers can tell when the relay
// disappears. On top of it the Mirror publishes:
//
//	{prefix}/state          retained, current LED state
//	{prefix}/events/audit   every audit event as it is appended
//	{prefix}/system/status  retained, online/offline (also the LWT)
//
// and CommandHandler turns messages on {prefix}/command into relay
// commands with the "system" source.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	mirror := mqtt.NewMirror(client, client.Topics(), byte(cfg.MQTT.QoS))
//	auditLog.AddObserver(mirror.Observe)
//
// The broker is optional. When mqtt.enabled is false nothing in this
// package is constructed.
package mqtt
