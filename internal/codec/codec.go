// Package codec converts notes to and from their on-disk representation:
// an optional YAML frontmatter block followed by the Markdown body, sealed
// when encryption is enabled.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/starford/notation/internal/models"
)

// Storage formats. The persisted format version is compared with
// CurrentFormat on startup to decide whether every note must be rewritten.
const (
	// FormatPlain is a bare text file whose title is its filename.
	FormatPlain = 1
	// FormatFrontmatter carries id, title, labels and creation time in a
	// YAML header.
	FormatFrontmatter = 2

	CurrentFormat = FormatFrontmatter
)

// ErrLocked is returned when a sealed note is read without a key.
var ErrLocked = errors.New("codec: note is encrypted and no key is configured")

const delim = "---"

type frontmatter struct {
	ID      string    `yaml:"id,omitempty"`
	Title   string    `yaml:"title,omitempty"`
	Labels  []string  `yaml:"labels,omitempty"`
	Tags    []string  `yaml:"tags,omitempty"`
	Created time.Time `yaml:"created,omitempty"`
}

// Decoded is the content recovered from one note file.
type Decoded struct {
	ID        string
	Title     string
	Body      string
	Labels    []string
	CreatedAt time.Time
	Format    int
	Sealed    bool
}

// Codec encodes notes in CurrentFormat and decodes every known format.
type Codec struct {
	sealer *Sealer
}

// New returns a codec. A nil sealer writes plaintext.
func New(sealer *Sealer) *Codec {
	return &Codec{sealer: sealer}
}

// Sealer returns the active sealer, or nil when encryption is off.
func (c *Codec) Sealer() *Sealer { return c.sealer }

// Encrypted reports whether encoded output is sealed.
func (c *Codec) Encrypted() bool { return c.sealer != nil }

// Encode renders n in CurrentFormat.
func (c *Codec) Encode(n *models.Note) ([]byte, error) {
	fm := frontmatter{
		ID:      n.ID,
		Title:   n.Title,
		Labels:  n.Labels,
		Created: n.CreatedAt.UTC(),
	}
	head, err := yaml.Marshal(&fm)
	if err != nil {
		return nil, fmt.Errorf("codec: encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.Grow(len(head) + len(n.Body) + 8)
	buf.WriteString(delim + "\n")
	buf.Write(head)
	buf.WriteString(delim + "\n")
	buf.WriteString(n.Body)

	if c.sealer == nil {
		return buf.Bytes(), nil
	}
	return c.sealer.Seal(buf.Bytes())
}

// Decode parses the content of the file called filename.
func (c *Codec) Decode(filename string, data []byte) (Decoded, error) {
	var out Decoded
	if IsSealed(data) {
		if c.sealer == nil {
			return out, ErrLocked
		}
		plain, err := c.sealer.Open(data)
		if err != nil {
			return out, err
		}
		data = plain
		out.Sealed = true
	}

	fm, body, ok := splitFrontmatter(data)
	out.Body = body
	if !ok {
		out.Format = FormatPlain
		out.Title = TitleFromFilename(filename)
		return out, nil
	}

	out.Format = FormatFrontmatter
	out.ID = fm.ID
	out.CreatedAt = fm.Created
	out.Labels = models.NormalizeLabels(append(fm.Labels, fm.Tags...))
	out.Title = deriveTitle(fm.Title, body, filename)
	return out, nil
}

// splitFrontmatter separates a YAML header (between leading --- lines)
// from the body. Content without a valid header is all body.
func splitFrontmatter(data []byte) (frontmatter, string, bool) {
	var fm frontmatter
	trimmed := bytes.TrimLeft(data, "\n\r")
	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return fm, string(data), false
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return fm, string(data), false
	}

	block := rest[:idx]
	// Only the line break ending the closing delimiter belongs to the header.
	after := rest[idx+1+len(delim):]
	if bytes.HasPrefix(after, []byte("\r\n")) {
		after = after[2:]
	} else if bytes.HasPrefix(after, []byte("\n")) {
		after = after[1:]
	}
	body := string(after)

	if err := yaml.Unmarshal(block, &fm); err != nil {
		return frontmatter{}, string(data), false
	}
	return fm, body, true
}

// deriveTitle prefers the header title, then the first H1, then the
// filename.
func deriveTitle(title, body, filename string) string {
	if title = strings.TrimSpace(title); title != "" {
		return title
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return TitleFromFilename(filename)
}

// TitleFromFilename strips the extension from a note filename.
func TitleFromFilename(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}
