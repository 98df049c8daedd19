package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every access controller topic.
//
// Hierarchy:
//
//	graylogic/access/validate/{code|tag}/{source}   keypad → controller
//	graylogic/access/command/{op}                   management → controller
//	graylogic/access/response/{request_id}          controller → requester
//	graylogic/access/event/{validated|failed}       controller → subscribers
//	graylogic/access/status                         online/offline (retained, LWT)
const TopicPrefix = "graylogic/access"

// Topics provides builders and parsers for access controller MQTT topics.
// Using these helpers keeps topic naming consistent across the codebase.
//
//	topics := mqtt.Topics{}
//	topics.Validate("code", "front-door")
//	// Returns: "graylogic/access/validate/code/front-door"
type Topics struct{}

// Validate returns the topic a keypad publishes a credential on.
func (Topics) Validate(method, source string) string {
	return fmt.Sprintf("%s/validate/%s/%s", TopicPrefix, method, source)
}

// AllValidate matches validation requests of every method from every source.
//
// Example: graylogic/access/validate/+/+
func (Topics) AllValidate() string {
	return TopicPrefix + "/validate/+/+"
}

// Command returns the topic for a management command.
//
// Example: graylogic/access/command/create_user
func (Topics) Command(op string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, op)
}

// AllCommands matches every management command.
func (Topics) AllCommands() string {
	return TopicPrefix + "/command/+"
}

// Response returns the reply topic for a request.
//
// Example: graylogic/access/response/req-abc123
func (Topics) Response(requestID string) string {
	return fmt.Sprintf("%s/response/%s", TopicPrefix, requestID)
}

// Event returns the topic validation outcomes are published on.
//
// Example: graylogic/access/event/failed
func (Topics) Event(kind string) string {
	return fmt.Sprintf("%s/event/%s", TopicPrefix, kind)
}

// Status returns the retained online/offline status topic.
func (Topics) Status() string {
	return TopicPrefix + "/status"
}

// ParseValidate splits a validation topic into method and source.
func (Topics) ParseValidate(topic string) (method, source string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefix+"/validate/")
	if !found {
		return "", "", false
	}
	method, source, found = strings.Cut(rest, "/")
	if !found || method == "" || source == "" || strings.Contains(source, "/") {
		return "", "", false
	}
	return method, source, true
}

// ParseCommand returns the operation named by a command topic.
func (Topics) ParseCommand(topic string) (op string, ok bool) {
	op, found := strings.CutPrefix(topic, TopicPrefix+"/command/")
	if !found || op == "" || strings.Contains(op, "/") {
		return "", false
	}
	return op, true
}
