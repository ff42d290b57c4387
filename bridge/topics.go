package bridge

import (
	"strings"

	"github.com/srg/brc1h/internal/protocol"
)

// Availability payloads.
const (
	Online  = "online"
	Offline = "offline"
)

// Topics builds the bridge topics for one controller.
//
//	t := bridge.Topics{Prefix: "brc1h", Device: "living-room"}
//	t.State(protocol.AttrPower) // brc1h/living-room/state/power
type Topics struct {
	Prefix string
	Device string
}

func (t Topics) base() string {
	return t.Prefix + "/" + t.Device
}

// State returns the retained topic carrying one attribute as JSON.
func (t Topics) State(attr protocol.Attribute) string {
	return t.base() + "/state/" + string(attr)
}

// Snapshot returns the retained topic carrying the whole state as one JSON
// object.
func (t Topics) Snapshot() string {
	return t.base() + "/state"
}

// Set returns the command topic of one attribute.
func (t Topics) Set(attr protocol.Attribute) string {
	return t.base() + "/set/" + string(attr)
}

// SetWildcard matches every command topic.
func (t Topics) SetWildcard() string {
	return t.base() + "/set/+"
}

// Availability returns the retained online/offline topic.
func (t Topics) Availability() string {
	return t.base() + "/availability"
}

// Error returns the topic failed commands are reported on.
func (t Topics) Error() string {
	return t.base() + "/error"
}

// ParseSet extracts the attribute name from a command topic.
func (t Topics) ParseSet(topic string) (string, bool) {
	name, ok := strings.CutPrefix(topic, t.base()+"/set/")
	if !ok || name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}
