package mqtt

import (
	"fmt"
	"strings"
)

// DefaultPrefix is used when no topic prefix is configured.
const DefaultPrefix = "skycapture"

// Topics builds topic names under a prefix.
type Topics struct {
	prefix string
}

// NewTopics trims trailing slashes from prefix and falls back to
// DefaultPrefix.
func NewTopics(prefix string) Topics {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return Topics{prefix: prefix}
}

func (t Topics) Online() string { return t.prefix + "/online" }
func (t Topics) Status() string { return t.prefix + "/status" }

func (t Topics) Job(id int) string {
	return fmt.Sprintf("%s/job/%d", t.prefix, id)
}

func (t Topics) Event(kind string) string {
	return t.prefix + "/event/" + kind
}

func (t Topics) Command(name string) string {
	return t.prefix + "/command/" + name
}

// AllCommands matches every command topic.
func (t Topics) AllCommands() string {
	return t.Command("+")
}

// CommandName extracts the command from a command topic, or "" if topic is
// not one.
func (t Topics) CommandName(topic string) string {
	name, ok := strings.CutPrefix(topic, t.prefix+"/command/")
	if !ok || strings.Contains(name, "/") {
		return ""
	}
	return name
}
