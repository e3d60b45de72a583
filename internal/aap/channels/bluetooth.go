package channels

import "github.com/alxayo/aap-headunit/internal/aap/wire"

// Bluetooth is a stub handler for the BLUETOOTH channel: it discards all
// traffic, sends no reply, and never drives an actual Bluetooth stack.
// The channel is only opened at all when a bluetooth_mac is configured
// (internal/aap/discovery.Catalog.services), so this exists purely to
// keep the session from stalling on unexpected channel traffic.
type Bluetooth struct{}

// NewBluetooth creates a Bluetooth stub handler.
func NewBluetooth() *Bluetooth { return &Bluetooth{} }

// Handle discards any BLUETOOTH-channel message; nothing in this engine
// pairs or relays Bluetooth data.
func (b *Bluetooth) Handle(msg *wire.Message) {}
