package markdown

import "testing"

func TestImage(t *testing.T) {
	tests := []struct {
		alt  string
		src  string
		want string
	}{
		{"", "https://x/a.png", "![](https://x/a.png)"},
		{"a cat", "https://x/a.png", "![a cat](https://x/a.png)"},
		{"[x]", "https://x/a b.png", `![\[x\]](<https://x/a b.png>)`},
		{" multi\n line ", "https://x/(1).png", "![multi line](<https://x/(1).png>)"},
		{"", "https://x/a b(1).png", "![](<https://x/a b(1).png>)"},
		{"", "https://x/<b>.png", `![](<https://x/\<b\>.png>)`},
	}

	for _, test := range tests {
		if got := Image(test.alt, test.src); got != test.want {
			t.Errorf("Image(%q, %q) = %q, want %q", test.alt, test.src, got, test.want)
		}
	}
}

func TestParagraphsAndJoin(t *testing.T) {
	got := Paragraphs("one\r\n\r\n\n\ntwo\n\n  \n\nthree")
	if len(got) != 3 || got[0] != "one" || got[2] != "three" {
		t.Fatalf("unexpected paragraphs: %q", got)
	}

	if joined := Join("a", "", " b "); joined != "a\n\nb" {
		t.Fatalf("unexpected join: %q", joined)
	}
}
