// Package mqtt wraps paho.mqtt.golang for the bridge.
//
// The client tracks its subscriptions and restores them after every
// reconnect, recovers panics in message handlers and bounds every broker
// round trip with a timeout.
package mqtt
