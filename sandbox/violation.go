package sandbox

import "fmt"

// ViolationKind classifies what a safety check found.
type ViolationKind string

const (
	ViolationParseError ViolationKind = "parse_error"
	ViolationImport     ViolationKind = "unauthorized_import"
	ViolationCall       ViolationKind = "unauthorized_call"
	ViolationAttribute  ViolationKind = "unauthorized_attribute"
)

// RiskCategory tags an attribute violation with the capability class the
// attribute name belongs to.
type RiskCategory string

const (
	RiskFilesystem RiskCategory = "file"
	RiskProcess    RiskCategory = "process"
	RiskNetwork    RiskCategory = "network"
)

// Violation is one reason a snippet must not run. A non-empty violation list
// for a source string is final: the runner rejects the snippet without
// executing any of it.
type Violation struct {
	Kind     ViolationKind `json:"kind"`
	Subject  string        `json:"subject"`
	Category RiskCategory  `json:"category,omitempty"`
}

// String renders the violation the way callers see it in ExecuteResult.Error.
func (v Violation) String() string {
	switch v.Kind {
	case ViolationParseError:
		return "Syntax error in code: " + v.Subject
	case ViolationImport:
		return "Unauthorized import: " + v.Subject
	case ViolationCall:
		return "Unauthorized function call: " + v.Subject
	case ViolationAttribute:
		return fmt.Sprintf("Potentially unsafe %s operation: %s", v.Category, v.Subject)
	default:
		return string(v.Kind) + ": " + v.Subject
	}
}

// restrictedBuiltins maps global names whose invocation is denied inside the
// sandbox to the capability they reach. The table drives both enforcement
// layers: the analyzer flags calls to these names and the environment builder
// unbinds them from the globals, so the two layers cannot drift apart.
var restrictedBuiltins = map[string]string{
	"eval":           "dynamic code evaluation",
	"Function":       "dynamic code compilation",
	"importScripts":  "dynamic code loading",
	"globalThis":     "scope introspection",
	"Reflect":        "object introspection",
	"Proxy":          "object interception",
	"fetch":          "network access",
	"XMLHttpRequest": "network access",
	"WebSocket":      "network access",
	"open":           "resource access",
	"prompt":         "interactive input",
	"confirm":        "interactive input",
	"alert":          "interactive output",
}

// restrictedAttributes maps attribute names to the risk category they imply.
// Matching is purely by name: the analyzer cannot know a receiver's type, so
// it trades false positives (a harmless object with a "read" method) for
// conservative coverage of file, process, and socket handles.
var restrictedAttributes = map[string]RiskCategory{
	"read":   RiskFilesystem,
	"write":  RiskFilesystem,
	"open":   RiskFilesystem,
	"close":  RiskFilesystem,
	"remove": RiskFilesystem,
	"unlink": RiskFilesystem,

	"system": RiskProcess,
	"popen":  RiskProcess,
	"spawn":  RiskProcess,
	"exec":   RiskProcess,
	"eval":   RiskProcess,

	"connect": RiskNetwork,
	"bind":    RiskNetwork,
	"listen":  RiskNetwork,
	"accept":  RiskNetwork,
	"socket":  RiskNetwork,
}
