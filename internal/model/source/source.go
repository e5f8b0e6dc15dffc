// Package source holds the static topic to URL mapping used for citation links.
package source

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// ErrInvalidSources marks a sources document that cannot be loaded.
var ErrInvalidSources = errors.New("invalid sources")

// Entry links a topic phrase to reference material.
type Entry struct {
	Topic string `json:"topic"`
	URL   string `json:"url"`
}

// Catalog keeps entries in document order; lookups are first-match.
type Catalog struct {
	entries []Entry
}

// NewCatalog returns a catalog over entries in the given order.
func NewCatalog(entries []Entry) *Catalog {
	return &Catalog{entries: append([]Entry(nil), entries...)}
}

// Entries returns the mapping in document order.
func (c *Catalog) Entries() []Entry {
	if c == nil {
		return nil
	}
	return append([]Entry(nil), c.entries...)
}

// Len returns the number of topics.
func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// Seed is the built-in mapping used when no sources file is configured.
func Seed() *Catalog {
	return NewCatalog([]Entry{
		{Topic: "теория относительности", URL: "https://ru.wikipedia.org/wiki/Теория_относительности"},
		{Topic: "e=mc²", URL: "https://ru.wikipedia.org/wiki/Эквивалентность_массы_и_энергии"},
		{Topic: "фотоэффект", URL: "https://ru.wikipedia.org/wiki/Фотоэффект"},
		{Topic: "гравитационные волны", URL: "https://ru.wikipedia.org/wiki/Гравитационные_волны"},
		{Topic: "принстон", URL: "https://ru.wikipedia.org/wiki/Институт_перспективных_исследований"},
	})
}

// LoadFile reads a JSON object or YAML mapping of topic to URL.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read sources file %s", path)
	}
	catalog, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "parse sources file %s", path)
	}
	return catalog, nil
}

// Parse decodes a topic to URL mapping preserving key order.
// Topics are normalized to lower case for case-insensitive matching.
func Parse(data []byte) (*Catalog, error) {
	var (
		entries []Entry
		err     error
	)
	if bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		entries, err = parseJSON(data)
	} else {
		entries, err = parseYAML(data)
	}
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(entries))
	for i, entry := range entries {
		topic := strings.ToLower(strings.TrimSpace(entry.Topic))
		if topic == "" || strings.TrimSpace(entry.URL) == "" {
			return nil, errors.Wrapf(ErrInvalidSources, "entry #%d needs a topic and a url", i)
		}
		if _, dup := seen[topic]; dup {
			return nil, errors.Wrapf(ErrInvalidSources, "duplicate topic %q", topic)
		}
		seen[topic] = struct{}{}
		entries[i] = Entry{Topic: topic, URL: strings.TrimSpace(entry.URL)}
	}
	return NewCatalog(entries), nil
}

func parseJSON(data []byte) ([]Entry, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, errors.Wrap(ErrInvalidSources, err.Error())
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.Wrap(ErrInvalidSources, "expected a JSON object")
	}

	var entries []Entry
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, errors.Wrap(ErrInvalidSources, err.Error())
		}
		key, _ := keyTok.(string)

		var url string
		if err := dec.Decode(&url); err != nil {
			return nil, errors.Wrapf(ErrInvalidSources, "topic %q: %v", key, err)
		}
		entries = append(entries, Entry{Topic: key, URL: url})
	}
	if _, err := dec.Token(); err != nil && err != io.EOF {
		return nil, errors.Wrap(ErrInvalidSources, err.Error())
	}
	return entries, nil
}

func parseYAML(data []byte) ([]Entry, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(ErrInvalidSources, err.Error())
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind != yaml.MappingNode {
		return nil, errors.Wrap(ErrInvalidSources, "expected a mapping of topic to url")
	}

	entries := make([]Entry, 0, len(root.Content)/2)
	for i := 0; i+1 < len(root.Content); i += 2 {
		key, value := root.Content[i], root.Content[i+1]
		if value.Kind != yaml.ScalarNode {
			return nil, errors.Wrapf(ErrInvalidSources, "topic %q: url must be a string", key.Value)
		}
		entries = append(entries, Entry{Topic: key.Value, URL: value.Value})
	}
	return entries, nil
}
