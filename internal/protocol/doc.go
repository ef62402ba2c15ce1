// Package protocol defines the JSON wire contract spoken with the telephony
// gateway: inbound start/media/stop events and outbound media and control
// messages.
package protocol
