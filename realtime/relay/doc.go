// Package relay carries server-initiated deliveries between relay server
// instances.
//
// A Delivery names a target session and the text frame to push to every
// socket of that session. Whichever instance receives a send request
// publishes the delivery on the bus; every instance subscribed to the bus
// forwards it to the sockets it holds locally.
//
// Two buses are provided:
//   - LocalBus delivers within the process (single instance)
//   - NATSBus publishes on a NATS subject so several instances share traffic
package relay
