// Package changesets filters changeset metadata and fetches the changesets
// of one mapper, as preparation for a revert run.
package changesets

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"time"
)

// TimeFormat is the timestamp layout accepted on the command line and sent
// to the API.
const TimeFormat = "2006-01-02T15:04:05"

// Changeset is the metadata of one changeset.
type Changeset struct {
	ID        int64
	User      string
	UID       int64
	CreatedAt time.Time
	Open      bool
	Tags      map[string]string
}

type xmlChangeset struct {
	ID        int64  `xml:"id,attr"`
	User      string `xml:"user,attr"`
	UID       int64  `xml:"uid,attr"`
	CreatedAt string `xml:"created_at,attr"`
	Open      bool   `xml:"open,attr"`
	Tags      []struct {
		K string `xml:"k,attr"`
		V string `xml:"v,attr"`
	} `xml:"tag"`
}

type xmlChangesets struct {
	Changesets []xmlChangeset `xml:"changeset"`
}

// Decode reads a changeset metadata document (the <osm> output of the
// changesets query or a planet changeset dump).
func Decode(r io.Reader) ([]Changeset, error) {
	var doc xmlChangesets
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode changesets: %w", err)
	}
	out := make([]Changeset, 0, len(doc.Changesets))
	for _, x := range doc.Changesets {
		cs := Changeset{ID: x.ID, User: x.User, UID: x.UID, Open: x.Open, Tags: make(map[string]string, len(x.Tags))}
		if x.CreatedAt != "" {
			t, err := time.Parse(time.RFC3339, x.CreatedAt)
			if err != nil {
				return nil, fmt.Errorf("changeset %d: bad created_at %q: %w", x.ID, x.CreatedAt, err)
			}
			cs.CreatedAt = t
		}
		for _, t := range x.Tags {
			cs.Tags[t.K] = t.V
		}
		out = append(out, cs)
	}
	return out, nil
}

// ReadFile decodes the metadata file at path.
func ReadFile(path string) ([]Changeset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	cs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cs, nil
}

// Filter selects changesets by a regular expression over some of their tags.
// A filter without pattern matches everything.
type Filter struct {
	pattern *regexp.Regexp
	keys    []string
	invert  bool
}

// NewFilter compiles pattern. keys defaults to "comment". A missing tag is
// matched as the empty string.
func NewFilter(pattern string, ignoreCase bool, keys []string, invert bool) (*Filter, error) {
	f := &Filter{invert: invert}
	for _, k := range keys {
		if k = strings.TrimSpace(k); k != "" {
			f.keys = append(f.keys, k)
		}
	}
	if len(f.keys) == 0 {
		f.keys = []string{"comment"}
	}
	if pattern == "" {
		return f, nil
	}
	if ignoreCase {
		pattern = "(?i)" + pattern
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("filter pattern: %w", err)
	}
	f.pattern = re
	return f, nil
}

// Match reports whether cs is selected: some key matches, or with invert,
// some key does not.
func (f *Filter) Match(cs Changeset) bool {
	if f.pattern == nil {
		return true
	}
	for _, k := range f.keys {
		if f.pattern.MatchString(cs.Tags[k]) != f.invert {
			return true
		}
	}
	return false
}
