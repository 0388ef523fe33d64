package discovery

import (
	"bufio"
	"bytes"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// FrontMatter is the optional metadata block at the top of a source document,
// either YAML between "---" lines or TOML between "+++" lines.
type FrontMatter struct {
	Title       string   `yaml:"title" toml:"title"`
	Description string   `yaml:"description" toml:"description"`
	Priority    string   `yaml:"priority" toml:"priority"`
	Complexity  string   `yaml:"complexity" toml:"complexity"`
	Tags        []string `yaml:"tags" toml:"tags"`
}

// ParseFrontMatter splits data into its front matter and body. A document
// without front matter returns a zero FrontMatter and the whole input.
func ParseFrontMatter(data []byte) (FrontMatter, []byte, error) {
	var fm FrontMatter
	text := bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	var delim string
	switch {
	case hasDelimLine(text, "---"):
		delim = "---"
	case hasDelimLine(text, "+++"):
		delim = "+++"
	default:
		return fm, data, nil
	}

	rest := text[bytes.IndexByte(text, '\n')+1:]
	block, body, ok := cutAtDelim(rest, delim)
	if !ok {
		return fm, data, fmt.Errorf("front matter: missing closing %q", delim)
	}

	var err error
	if delim == "---" {
		err = yaml.Unmarshal(block, &fm)
	} else {
		_, err = toml.Decode(string(block), &fm)
	}
	if err != nil {
		return FrontMatter{}, data, fmt.Errorf("front matter: %w", err)
	}
	return fm, body, nil
}

func hasDelimLine(text []byte, delim string) bool {
	line, _, _ := bytes.Cut(text, []byte("\n"))
	return strings.TrimRight(string(line), " \r") == delim
}

// cutAtDelim splits rest at the first line equal to delim.
func cutAtDelim(rest []byte, delim string) (block, body []byte, ok bool) {
	offset := 0
	for offset <= len(rest) {
		end := bytes.IndexByte(rest[offset:], '\n')
		var line []byte
		next := len(rest) + 1
		if end < 0 {
			line = rest[offset:]
		} else {
			line = rest[offset : offset+end]
			next = offset + end + 1
		}
		if strings.TrimRight(string(line), " \r") == delim {
			if next > len(rest) {
				return rest[:offset], nil, true
			}
			return rest[:offset], rest[next:], true
		}
		if end < 0 {
			break
		}
		offset = next
	}
	return nil, nil, false
}

// ExtractTitle returns the text of the first "# " heading in body.
func ExtractTitle(body []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(body))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if title, ok := strings.CutPrefix(line, "# "); ok {
			if title = strings.TrimSpace(title); title != "" {
				return title
			}
		}
	}
	return ""
}

// titleFromFileName turns "user-auth_flow.md" into "user auth flow".
func titleFromFileName(name string) string {
	stem := strings.TrimSuffix(name, filepath.Ext(name))
	return strings.TrimSpace(strings.NewReplacer("-", " ", "_", " ").Replace(stem))
}
