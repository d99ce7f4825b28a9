package clip

import "strings"

// Fixed device-side topic roots.
const (
	deviceMessageRoot      = "clip/message/devices"
	deviceProvisioningRoot = "clip/provisioning/devices"

	// DefaultDeviceTopicPrefix is where the bridge publishes to devices.
	DefaultDeviceTopicPrefix = "lime/devices"

	// DefaultPonderPrefix is the root of hub state topics.
	DefaultPonderPrefix = "ponder"

	// DefaultDiscoveryPrefix is the hub discovery root.
	DefaultDiscoveryPrefix = "homeassistant"
)

// Availability payloads.
const (
	PayloadOnline  = "online"
	PayloadOffline = "offline"
)

// Topics builds every topic the bridge publishes or subscribes to.
type Topics struct {
	// PonderPrefix roots the hub state topics ({ponder}/{id}/{prop}).
	PonderPrefix string

	// DiscoveryPrefix roots the hub discovery topics.
	DiscoveryPrefix string

	// DeviceTopicPrefix roots the per-device outbound topic.
	DeviceTopicPrefix string
}

// withDefaults fills empty prefixes.
func (t Topics) withDefaults() Topics {
	if t.PonderPrefix == "" {
		t.PonderPrefix = DefaultPonderPrefix
	}
	if t.DiscoveryPrefix == "" {
		t.DiscoveryPrefix = DefaultDiscoveryPrefix
	}
	if t.DeviceTopicPrefix == "" {
		t.DeviceTopicPrefix = DefaultDeviceTopicPrefix
	}
	return t
}

// Property returns {ponder}/{id}/{prop}.
func (t Topics) Property(id, prop string) string {
	return t.PonderPrefix + "/" + id + "/" + prop
}

// Command returns {ponder}/{id}/{prop}/set.
func (t Topics) Command(id, prop string) string {
	return t.Property(id, prop) + "/set"
}

// DeviceAvailability returns {ponder}/{id}/availability.
func (t Topics) DeviceAvailability(id string) string {
	return t.Property(id, "availability")
}

// Availability returns {ponder}/availability, the bridge LWT topic.
func (t Topics) Availability() string {
	return t.PonderPrefix + "/availability"
}

// Discovery returns {discovery}/{class}/{ponder}/{id}/config.
func (t Topics) Discovery(class, id string) string {
	return t.DiscoveryPrefix + "/" + class + "/" + t.PonderPrefix + "/" + id + "/config"
}

// HubStatus returns {discovery}/status, where the hub announces restarts.
func (t Topics) HubStatus() string {
	return t.DiscoveryPrefix + "/status"
}

// SetSubscription returns the wildcard for property set requests.
func (t Topics) SetSubscription() string {
	return t.PonderPrefix + "/+/+/set"
}

// Health returns {ponder}/bridge/health.
func (t Topics) Health() string {
	return t.PonderPrefix + "/bridge/health"
}

// Device returns the outbound topic for one device.
func (t Topics) Device(id string) string {
	return t.DeviceTopicPrefix + "/" + id
}

// DeviceMessage returns clip/message/devices/{id}.
func (t Topics) DeviceMessage(id string) string {
	return deviceMessageRoot + "/" + id
}

// DeviceProvisioning returns clip/provisioning/devices/{id}.
func (t Topics) DeviceProvisioning(id string) string {
	return deviceProvisioningRoot + "/" + id
}

// DeviceSubscriptions returns the wildcards for inbound device traffic.
func (t Topics) DeviceSubscriptions() []string {
	return []string{deviceMessageRoot + "/+", deviceProvisioningRoot + "/+"}
}

// ForDevice scopes the builder to one device for discovery generation.
func (t Topics) ForDevice(id string) DeviceTopics {
	return DeviceTopics{topics: t, id: id}
}

// ParseSetTopic extracts the device ID and property from
// {ponder}/{id}/{prop}/set.
func (t Topics) ParseSetTopic(topic string) (id, prop string, ok bool) {
	rest, found := strings.CutPrefix(topic, t.PonderPrefix+"/")
	if !found {
		return "", "", false
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[2] != "set" || parts[0] == "" || parts[1] == "" { //nolint:mnd // id/prop/set
		return "", "", false
	}
	return parts[0], parts[1], true
}

// DeviceTopicKind identifies which inbound device topic a message used.
type DeviceTopicKind int

// Inbound device topic kinds.
const (
	DeviceTopicUnknown DeviceTopicKind = iota
	DeviceTopicMessage
	DeviceTopicProvisioning
)

// ParseDeviceTopic classifies clip/message/devices/{id} and
// clip/provisioning/devices/{id}.
func ParseDeviceTopic(topic string) (DeviceTopicKind, string) {
	if id, ok := strings.CutPrefix(topic, deviceMessageRoot+"/"); ok && validID(id) {
		return DeviceTopicMessage, id
	}
	if id, ok := strings.CutPrefix(topic, deviceProvisioningRoot+"/"); ok && validID(id) {
		return DeviceTopicProvisioning, id
	}
	return DeviceTopicUnknown, ""
}

// DeviceKey returns the device a topic belongs to, or "" for bridge-wide
// topics. Used to shard work.
func (t Topics) DeviceKey(topic string) string {
	if _, id := ParseDeviceTopic(topic); id != "" {
		return id
	}
	if id, _, ok := t.ParseSetTopic(topic); ok {
		return id
	}
	return ""
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/+#")
}

// DeviceTopics builds hub topics for one device.
type DeviceTopics struct {
	topics Topics
	id     string
}

// State returns the state topic for prop.
func (d DeviceTopics) State(prop string) string {
	return d.topics.Property(d.id, prop)
}

// Command returns the command topic for prop.
func (d DeviceTopics) Command(prop string) string {
	return d.topics.Command(d.id, prop)
}
