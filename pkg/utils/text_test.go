package utils

import (
	"testing"
)

func TestTruncate(t *testing.T) {
	if Truncate("hello", 10) != "hello" {
		t.Error("short string unchanged")
	}
	if Truncate("hello world", 5) != "hello..." {
		t.Errorf("got %s", Truncate("hello world", 5))
	}
	if Truncate("x", 0) != "x" {
		t.Error("maxLen 0 returns as-is")
	}
	if got := Truncate("Café Müller", 4); got != "Café..." {
		t.Errorf("rune-aware truncate: got %q", got)
	}
}

func TestJoinNonEmpty(t *testing.T) {
	if got := JoinNonEmpty(", ", "a", "", "  ", "b"); got != "a, b" {
		t.Errorf("JoinNonEmpty = %q, want %q", got, "a, b")
	}
	if got := JoinNonEmpty(", "); got != "" {
		t.Errorf("JoinNonEmpty() = %q, want empty", got)
	}
}
