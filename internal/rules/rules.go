// Package rules holds the stateless reply classifiers applied to inbound
// message text.
package rules

import "strings"

// Rule pairs a trigger with the reply it produces. Rules are immutable values.
type Rule struct {
	Name    string
	Trigger func(text string) bool
	Respond func(text string) string
}

// Set is an ordered rule list; earlier rules win.
type Set []Rule

// Default returns the bot's rules: exact commands first, then detectors.
func Default() Set {
	return Set{PingRule(), ZodiacRule()}
}

// Match returns the reply of the first rule whose trigger accepts text.
func (s Set) Match(text string) (reply, rule string, ok bool) {
	for _, r := range s {
		if r.Trigger(text) {
			return r.Respond(text), r.Name, true
		}
	}
	return "", "", false
}

// PingCommand is the liveness command.
const PingCommand = "!ping"

// PingRule answers "pong" to an exact "!ping".
func PingRule() Rule {
	return Rule{
		Name: "ping",
		Trigger: func(text string) bool {
			return strings.TrimSpace(text) == PingCommand
		},
		Respond: func(string) string { return "pong" },
	}
}

// ZodiacRule replies with the symbols of every sign named in the text.
func ZodiacRule() Rule {
	return Rule{
		Name: "zodiac",
		Trigger: func(text string) bool {
			return len(DetectZodiacSigns(text)) > 0
		},
		Respond: func(text string) string {
			return strings.Join(DetectZodiacSigns(text), " ")
		},
	}
}

// Personal.AI order the ending
