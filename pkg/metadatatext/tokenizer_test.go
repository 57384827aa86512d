package metadatatext

import "testing"

func TestTokenize_DropsFullLineAndInlineComments(t *testing.T) {
	raw := "vg0 {\n  # full line comment\n  extent_size = 8192 # sectors\n}\n"
	lines := tokenize(raw)
	want := []string{"vg0 {", "extent_size = 8192", "}"}
	if len(lines) != len(want) {
		t.Fatalf("got %d lines %q, want %d lines %q", len(lines), lines, len(want), want)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Errorf("line %d: got %q, want %q", i, lines[i], want[i])
		}
	}
}

func TestStripInlineComment(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`extent_size = 8192 # sectors`, `extent_size = 8192 `},
		{`device = "/dev/sda1"`, `device = "/dev/sda1"`},
		{`name = "weird#name"`, `name = "weird#name"`},
		{`no comment here`, `no comment here`},
		{`# whole line`, ``},
	}
	for _, c := range cases {
		got := stripInlineComment(c.in)
		if got != c.want {
			t.Errorf("stripInlineComment(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestUnquote(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{`"double"`, `double`},
		{`'single'`, `single`},
		{`'mixed"`, `mixed`},
		{`"mixed'`, `mixed`},
		{`noquotes`, `noquotes`},
		{`"`, ``},
		{``, ``},
	}
	for _, c := range cases {
		got := unquote(c.in)
		if got != c.want {
			t.Errorf("unquote(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}
