package mqttpkt

import "strings"

// ValidateTopicFilter reports whether filter is syntactically legal:
// '#' may only appear as the final level (alone, or immediately after
// a '/'), and '+' may only occupy a whole level.
func ValidateTopicFilter(filter string) bool {
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		switch {
		case level == "#":
			if i != len(levels)-1 {
				return false
			}
		case strings.Contains(level, "#"):
			return false
		case level == "+":
			// fine: a whole-level wildcard
		case strings.Contains(level, "+"):
			return false
		}
	}
	return true
}

// TopicMatch implements spec.md §3's exact topic-filter match rule:
//   - "#" alone matches any topic.
//   - a trailing "/#" matches its parent level and all descendants.
//   - "+" matches exactly one level, including an empty level.
//   - "/" separates levels; empty leading/trailing levels are significant.
//   - ordinary characters must match byte-for-byte.
func TopicMatch(filter, topic string) bool {
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	fi := 0
	for fi < len(filterLevels) {
		fl := filterLevels[fi]

		if fl == "#" {
			return true
		}

		if fi >= len(topicLevels) {
			return false
		}
		tl := topicLevels[fi]

		if fl != "+" && fl != tl {
			return false
		}
		fi++
	}

	return fi == len(topicLevels)
}
