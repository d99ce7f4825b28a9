// Package clip implements the register protocol bridge between clip
// appliances and the home-automation hub.
//
// Appliances exchange framed binary packets over a device-side MQTT broker.
// This package decodes those packets into raw register updates, translates
// registers into named properties for the hub, and turns hub property set
// requests back into register write packets.
//
// # Architecture
//
//	┌──────────────┐  clip/...   ┌─────────────┐  {ponder}/...  ┌─────────┐
//	│  Appliance   │────────────►│   Manager   │───────────────►│   Hub   │
//	│              │◄────────────│  (sessions) │◄───────────────│         │
//	└──────────────┘ lime/dev... └─────────────┘  .../set       └─────────┘
//
// # Wire Format
//
// A frame is
//
//	[b0 b1 04 00 00 00 class b2 b3 b4 len tlv... crc_hi crc_lo]
//
// where b0..b4 is the command header (CommandWrite, CommandQuery), class
// marks who built the frame, and the checksum (CRC-16/CCITT-FALSE) covers
// everything from the 04 byte to the end of the payload.
//
// The payload is a run of TLV records. Each record has a 10-bit tag, a
// 2-bit length selector and 0-3 value bytes; values below 16 are stored
// inline in the header.
//
// # Models
//
// A Model is a table of Field descriptors. Each field names one register
// and carries optional transforms: ReadXform/ReadRedirect for reports,
// PreWrite/WriteXform/WriteCallback/WriteAttach for set requests. Models
// register with a Registry; the built-in ones live in the models
// sub-package.
//
// # Provisioning
//
// A device announces itself with preDeploy/deploy on
// clip/provisioning/devices/{id}; the bridge answers with
// completeProvisioning. When the device acknowledges, the bridge creates a
// Session, publishes the hub discovery descriptor and queries the device's
// registers.
//
// # Thread Safety
//
// Manager and Session are safe for concurrent use. Per-device ordering of
// inbound messages is provided by Dispatcher, which shards work by device ID.
package clip
