package mqttpkt

import "testing"

func TestValidateTopicFilter(t *testing.T) {
	tests := []struct {
		filter string
		valid  bool
	}{
		{"a/b/c", true},
		{"#", true},
		{"a/#", true},
		{"+/b", true},
		{"+/+/+", true},
		{"a/+/c", true},
		{"a/#/c", false},
		{"a/b#", false},
		{"a/b+", false},
		{"sport/tennis/player1#", false},
	}
	for _, tt := range tests {
		if got := ValidateTopicFilter(tt.filter); got != tt.valid {
			t.Errorf("ValidateTopicFilter(%q) = %v, want %v", tt.filter, got, tt.valid)
		}
	}
}

func TestTopicMatch(t *testing.T) {
	tests := []struct {
		filter string
		topic  string
		match  bool
	}{
		{"sport/tennis/player1", "sport/tennis/player1", true},
		{"sport/tennis/player1/#", "sport/tennis/player1", true},
		{"sport/tennis/player1/#", "sport/tennis/player1/ranking", true},
		{"sport/tennis/player1/#", "sport/tennis/player1/score/wimbledon", true},
		{"sport/#", "sport", true},
		{"#", "sport/tennis/player1", true},
		{"#", "/sport", true},
		{"+", "finance", true},
		{"+/+", "/finance", true},
		{"/+", "/finance", true},
		{"+/+", "", false},
		{"+", "", true},
		{"sport/+/player1", "sport/tennis/player1", true},
		{"sport/+/player1", "sport/player1", false},
		{"sport/+", "sport", false},
		{"sport/+", "sport/", true},
		{"sport+", "sport/tennis", false},
		{"sport/tennis", "sport/tennis/player1", false},
		{"sport/tennis/player1", "sport/tennis", false},
		{"$SYS/broker/load", "$SYS/broker/load", true},
	}
	for _, tt := range tests {
		if got := TopicMatch(tt.filter, tt.topic); got != tt.match {
			t.Errorf("TopicMatch(%q, %q) = %v, want %v", tt.filter, tt.topic, got, tt.match)
		}
	}
}
