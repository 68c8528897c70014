package normalize

import (
	"strings"

	"github.com/buger/jsonparser"

	"interaction-ingest/src/contracts"
)

// Field fallback chains. Each list is tried in order and the first non-empty
// value wins; adding a producer format means adding an entry here.

var eventIDChain = []extractor{
	payloadField("id"),
	payloadField("result", "taskId"),
	payloadField("result", "id"),
	payloadField("params", "message", "taskId"),
}

var conversationChain = []extractor{
	payloadField("params", "message", "contextId"),
	payloadField("result", "contextId"),
	payloadField("result", "status", "message", "contextId"),
}

var messageKeyChain = []extractor{
	payloadField("params", "message", "messageId"),
	payloadField("result", "status", "message", "messageId"),
}

var parentTaskChain = []extractor{
	payloadField("params", "message", "metadata", "parentTaskId"),
	payloadField("result", "status", "message", "metadata", "parentTaskId"),
	payloadField("result", "metadata", "parentTaskId"),
}

var functionCallChain = []extractor{
	payloadField("params", "message", "metadata", "function_call_id"),
	payloadField("result", "status", "message", "metadata", "function_call_id"),
}

func agentNameChain(c contracts.Conventions) []extractor {
	return []extractor{
		payloadField("params", "message", "metadata", "agent_name"),
		payloadField("result", "status", "message", "metadata", "agent_name"),
		payloadField("result", "metadata", "agent_name"),
		payloadField("result", "status", "metadata", "agent_name"),
		artifactAgent(c),
		topicAgent(c),
	}
}

// artifactAgent reads AgentName from a file part URI such as
// artifact://AgentName/user/session/report.pdf.
func artifactAgent(c contracts.Conventions) extractor {
	return func(d *document) string {
		var name string
		eachItem(d.parts, func(part []byte, t jsonparser.ValueType) {
			if name != "" || t != jsonparser.Object || stringAt(part, "kind") != "file" {
				return
			}
			if n := agentFromURI(stringAt(part, "file", "uri")); n != "" && !c.IsInfra(n) {
				name = n
			}
		})
		return name
	}
}

func agentFromURI(uri string) string {
	i := strings.Index(uri, "://")
	if i <= 0 {
		return ""
	}
	rest := uri[i+3:]
	if j := strings.IndexByte(rest, '/'); j >= 0 {
		rest = rest[:j]
	}
	return rest
}

// topicAgent reads AgentName from a topic of the form .../agent/status/AgentName/...
func topicAgent(c contracts.Conventions) extractor {
	return func(d *document) string {
		n := AgentFromTopic(d.topic)
		if c.IsInfra(n) {
			return ""
		}
		return n
	}
}

// AgentFromTopic returns the agent segment of a status topic.
func AgentFromTopic(topic string) string {
	segs := strings.Split(topic, "/")
	for i := 0; i+2 < len(segs); i++ {
		if segs[i] == "agent" && segs[i+1] == "status" {
			return segs[i+2]
		}
	}
	return ""
}

// TaskFromTopic returns the last topic segment when it follows a task naming rule.
func TaskFromTopic(topic string, c contracts.Conventions) string {
	if topic == "" {
		return ""
	}
	last := topic[strings.LastIndexByte(topic, '/')+1:]
	if c.IsTaskID(last) {
		return last
	}
	return ""
}
