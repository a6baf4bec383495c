package mention

import (
	"regexp"
	"strings"
)

// Pattern builds the matcher for messages addressed to the bot:
//
//	@edi quote 3 alice
//	edi: help
//	<@U123>, grab bob
//
// Group 2 is the command word, group 3 the rest of the message. Without a
// known identity there is nothing to match and Pattern returns nil.
func Pattern(botName, botID string) *regexp.Regexp {
	var alts []string
	if botName != "" {
		alts = append(alts, "@?"+regexp.QuoteMeta(botName))
	}
	if botID != "" {
		alts = append(alts, "<@"+regexp.QuoteMeta(botID)+`(?:\|[^>]*)?>`)
	}
	if len(alts) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?is)^\s*(` + strings.Join(alts, "|") + `)[:,]?\s+(\S+)(.*)$`)
}

// Match extracts the command word (lower-cased) and its trimmed argument
// string from text.
func Match(re *regexp.Regexp, text string) (command, args string, ok bool) {
	if re == nil {
		return "", "", false
	}
	m := re.FindStringSubmatch(text)
	if m == nil {
		return "", "", false
	}
	return strings.ToLower(strings.TrimSpace(m[2])), strings.TrimSpace(m[3]), true
}
