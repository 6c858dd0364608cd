package codec

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/starford/notation/internal/models"
)

func TestDecode_FrontmatterAndBody(t *testing.T) {
	input := []byte("---\nid: n1\ntitle: Hello\nlabels:\n  - work\n  - go\n---\n# Heading\nBody text.\n")
	d, err := New(nil).Decode("hello.md", input)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Title != "Hello" || d.ID != "n1" {
		t.Errorf("title/id = %q/%q", d.Title, d.ID)
	}
	if len(d.Labels) != 2 || d.Labels[0] != "go" || d.Labels[1] != "work" {
		t.Errorf("labels = %v, want [go work]", d.Labels)
	}
	if d.Body != "# Heading\nBody text.\n" {
		t.Errorf("body = %q", d.Body)
	}
	if d.Format != FormatFrontmatter {
		t.Errorf("format = %d", d.Format)
	}
}

func TestDecode_PlainTitleFromFilename(t *testing.T) {
	d, err := New(nil).Decode("shopping list.txt", []byte("milk\neggs\n"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Title != "shopping list" || d.Format != FormatPlain {
		t.Errorf("decoded = %+v", d)
	}
	if d.Body != "milk\neggs\n" {
		t.Errorf("body = %q", d.Body)
	}
}

func TestDecode_InvalidYAMLFallback(t *testing.T) {
	d, err := New(nil).Decode("x.md", []byte("---\n: invalid: yaml: {{{\n---\nBody\n"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if d.Format != FormatPlain {
		t.Errorf("expected plain fallback on invalid YAML")
	}
}

func TestDecode_TagsAcceptedAsLabels(t *testing.T) {
	d, _ := New(nil).Decode("x.md", []byte("---\ntags: [alpha]\nlabels: [beta, alpha]\n---\nbody"))
	if strings.Join(d.Labels, ",") != "alpha,beta" {
		t.Errorf("labels = %v", d.Labels)
	}
}

func TestDeriveTitle_H1WhenNoHeaderTitle(t *testing.T) {
	d, _ := New(nil).Decode("file.md", []byte("---\nlabels: [a]\n---\n# From Heading\ntext"))
	if d.Title != "From Heading" {
		t.Errorf("title = %q", d.Title)
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	n := &models.Note{ID: "abc", Title: "Plan", Body: "do things\n", Labels: []string{"home", "work"}, CreatedAt: created}
	c := New(nil)
	data, err := c.Encode(n)
	if err != nil {
		t.Fatal(err)
	}
	d, err := c.Decode("Plan.md", data)
	if err != nil {
		t.Fatal(err)
	}
	if d.ID != n.ID || d.Title != n.Title || d.Body != n.Body || !d.CreatedAt.Equal(created) {
		t.Errorf("round trip = %+v", d)
	}
}

func TestRoundTripKeepsLeadingBlankLines(t *testing.T) {
	c := New(nil)
	for _, body := range []string{"\n\nindented start", "\r\nwindows", "\n", ""} {
		data, err := c.Encode(&models.Note{ID: "b", Title: "Blank", Body: body})
		if err != nil {
			t.Fatal(err)
		}
		d, err := c.Decode("Blank.md", data)
		if err != nil {
			t.Fatal(err)
		}
		if d.Body != body {
			t.Errorf("body %q decoded as %q", body, d.Body)
		}
	}

	d, err := c.Decode("crlf.md", []byte("---\r\nid: c\r\n---\r\nline\r\n"))
	if err != nil {
		t.Fatal(err)
	}
	if d.Body != "line\r\n" {
		t.Errorf("crlf body = %q", d.Body)
	}
}

func TestSealedRoundTrip(t *testing.T) {
	s, err := NewSealer("correct horse", nil)
	if err != nil {
		t.Fatal(err)
	}
	c := New(s)
	n := &models.Note{ID: "x", Title: "Secret", Body: "hidden"}
	data, err := c.Encode(n)
	if err != nil {
		t.Fatal(err)
	}
	if !IsSealed(data) || strings.Contains(string(data), "hidden") {
		t.Fatal("output is not sealed")
	}
	d, err := c.Decode("Secret.md", data)
	if err != nil {
		t.Fatal(err)
	}
	if d.Body != "hidden" || !d.Sealed {
		t.Errorf("decoded = %+v", d)
	}

	if _, err := New(nil).Decode("Secret.md", data); !errors.Is(err, ErrLocked) {
		t.Errorf("err = %v, want ErrLocked", err)
	}

	other, _ := NewSealer("wrong", s.Salt())
	if _, err := New(other).Decode("Secret.md", data); !errors.Is(err, ErrBadKey) {
		t.Errorf("err = %v, want ErrBadKey", err)
	}
	if other.Fingerprint() == s.Fingerprint() {
		t.Error("fingerprints of different passphrases collide")
	}
}

func TestRewriteLinks(t *testing.T) {
	body := "See [[Old Name]] and [[old name|alias]] but not [[Other]]."
	out, changed := RewriteLinks(body, "Old Name", "New Name")
	if !changed {
		t.Fatal("expected change")
	}
	want := "See [[New Name]] and [[New Name|alias]] but not [[Other]]."
	if out != want {
		t.Errorf("got %q", out)
	}
	if _, changed := RewriteLinks("no links", "a", "b"); changed {
		t.Error("unexpected change")
	}
}

func TestLinks(t *testing.T) {
	links := Links("See [[Note A]] and [[Note B|alias]].\nAlso [[Note A]] again, [[ ]].")
	if len(links) != 2 || links[0] != "Note A" || links[1] != "Note B" {
		t.Errorf("links = %v", links)
	}
}

func TestFilenameFor(t *testing.T) {
	cases := map[string]string{
		"Project plan": "Project plan.md",
		"a/b:c":        "a-b-c.md",
		"  ":           "Untitled.md",
		"..hidden":     "hidden.md",
	}
	for title, want := range cases {
		if got := FilenameFor(title, ".md"); got != want {
			t.Errorf("FilenameFor(%q) = %q, want %q", title, got, want)
		}
	}
	if got := FilenameFor("x", "txt"); got != "x.txt" {
		t.Errorf("extension without dot: %q", got)
	}
}
