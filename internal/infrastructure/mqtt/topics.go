package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "driverd"

// Topics builds driverd MQTT topics under a common prefix.
//
//	topics := mqtt.Topics{Prefix: "driverd"}
//	topics.FieldState("zw-main", "LGHT#Sw_Hall")
//	// Returns: "driverd/state/zw-main/LGHT%23Sw_Hall"
//
// Field names contain '#', which a published topic may not. FieldState
// escapes the field name into a single topic level.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// FieldState returns the retained state topic of one field.
//
// Example: driverd/state/zw-main/LGHT%23Sw_Hall
func (t Topics) FieldState(moniker, field string) string {
	return t.prefix() + "/state/" + moniker + "/" + EscapeLevel(field)
}

// InstanceStatus returns the retained lifecycle status topic of an instance.
//
// Example: driverd/status/zw-main
func (t Topics) InstanceStatus(moniker string) string {
	return t.prefix() + "/status/" + moniker
}

// Trigger returns the topic on which trigger events of an instance are published.
//
// Example: driverd/trigger/zw-main/LoadChange
func (t Topics) Trigger(moniker, kind string) string {
	return t.prefix() + "/trigger/" + moniker + "/" + kind
}

// Command returns the topic on which backdoor commands for an instance arrive.
//
// Example: driverd/command/ir-lounge
func (t Topics) Command(moniker string) string {
	return t.prefix() + "/command/" + moniker
}

// CommandReply returns the topic on which command results are published.
//
// Example: driverd/reply/ir-lounge
func (t Topics) CommandReply(moniker string) string {
	return t.prefix() + "/reply/" + moniker
}

// SystemStatus returns the process online/offline topic.
//
// Example: driverd/system/status
func (t Topics) SystemStatus() string {
	return t.prefix() + "/system/status"
}

// AllCommands returns a pattern matching commands for every instance.
//
// Pattern: driverd/command/+
func (t Topics) AllCommands() string {
	return t.prefix() + "/command/+"
}

// AllTriggers returns a pattern matching every trigger event.
//
// Pattern: driverd/trigger/+/+
func (t Topics) AllTriggers() string {
	return t.prefix() + "/trigger/+/+"
}

// MonikerFromCommand extracts the moniker from a command topic. It returns
// false for topics that are not command topics under this prefix.
func (t Topics) MonikerFromCommand(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, t.prefix()+"/command/")
	if !ok || rest == "" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}

var levelEscaper = strings.NewReplacer("%", "%25", "#", "%23", "+", "%2B", "/", "%2F")

// EscapeLevel makes s safe to use as a single topic level.
func EscapeLevel(s string) string {
	return levelEscaper.Replace(s)
}
