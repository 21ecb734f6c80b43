package osm

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

type xmlTag struct {
	K string `xml:"k,attr"`
	V string `xml:"v,attr"`
}

type xmlNd struct {
	Ref int64 `xml:"ref,attr"`
}

type xmlMember struct {
	Type string `xml:"type,attr"`
	Ref  int64  `xml:"ref,attr"`
	Role string `xml:"role,attr"`
}

// xmlElement covers node/way/relation elements and, through Children, the
// create/modify/delete blocks of an osmChange document.
type xmlElement struct {
	XMLName   xml.Name
	ID        int64        `xml:"id,attr"`
	Version   int          `xml:"version,attr"`
	Changeset int64        `xml:"changeset,attr"`
	User      string       `xml:"user,attr"`
	UID       int64        `xml:"uid,attr"`
	Visible   string       `xml:"visible,attr"`
	Timestamp string       `xml:"timestamp,attr"`
	Lat       string       `xml:"lat,attr"`
	Lon       string       `xml:"lon,attr"`
	Tags      []xmlTag     `xml:"tag"`
	Nds       []xmlNd      `xml:"nd"`
	Members   []xmlMember  `xml:"member"`
	Children  []xmlElement `xml:",any"`
}

type xmlRoot struct {
	XMLName  xml.Name
	Children []xmlElement `xml:",any"`
}

// Decode reads an OSM XML document or an osmChange document and returns the
// revisions in document order. Elements inside a <delete> block are returned
// with Visible set to false. Non-entity elements (bounds, note, meta) are
// skipped.
func Decode(r io.Reader) ([]*Revision, error) {
	var root xmlRoot
	if err := xml.NewDecoder(r).Decode(&root); err != nil {
		return nil, fmt.Errorf("decode osm xml: %w", err)
	}

	var revs []*Revision
	switch root.XMLName.Local {
	case "osm":
		for _, el := range root.Children {
			rev, ok, err := el.revision(true)
			if err != nil {
				return nil, err
			}
			if ok {
				revs = append(revs, rev)
			}
		}
	case "osmChange":
		for _, block := range root.Children {
			visible := true
			switch block.XMLName.Local {
			case "create", "modify":
			case "delete":
				visible = false
			default:
				continue
			}
			for _, el := range block.Children {
				rev, ok, err := el.revision(visible)
				if err != nil {
					return nil, err
				}
				if ok {
					revs = append(revs, rev)
				}
			}
		}
	default:
		return nil, fmt.Errorf("decode osm xml: unexpected root element <%s>", root.XMLName.Local)
	}
	return revs, nil
}

// ReadFile decodes the OSM or osmChange file at path.
func ReadFile(path string) ([]*Revision, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	revs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return revs, nil
}

func (el xmlElement) revision(defaultVisible bool) (*Revision, bool, error) {
	kind, err := ParseKind(el.XMLName.Local)
	if err != nil || el.XMLName.Local != kind.String() {
		return nil, false, nil
	}

	rev := &Revision{
		Kind:      kind,
		ID:        el.ID,
		Version:   el.Version,
		Changeset: el.Changeset,
		User:      el.User,
		UID:       el.UID,
		Visible:   defaultVisible,
		Tags:      make(Tags, len(el.Tags)),
	}
	switch strings.TrimSpace(el.Visible) {
	case "false":
		rev.Visible = false
	case "true":
		rev.Visible = true
	}
	if el.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, el.Timestamp)
		if err != nil {
			return nil, false, fmt.Errorf("%s: bad timestamp %q: %w", rev, el.Timestamp, err)
		}
		rev.Timestamp = ts
	}
	if kind == KindNode {
		if rev.Lat, err = parseCoord(el.Lat); err != nil {
			return nil, false, fmt.Errorf("%s: bad lat: %w", rev, err)
		}
		if rev.Lon, err = parseCoord(el.Lon); err != nil {
			return nil, false, fmt.Errorf("%s: bad lon: %w", rev, err)
		}
	}
	for _, t := range el.Tags {
		rev.Tags[t.K] = t.V
	}
	for _, nd := range el.Nds {
		rev.Nodes = append(rev.Nodes, nd.Ref)
	}
	for _, m := range el.Members {
		mk, err := ParseKind(m.Type)
		if err != nil {
			return nil, false, fmt.Errorf("%s: member: %w", rev, err)
		}
		rev.Members = append(rev.Members, Member{Type: mk, Ref: m.Ref, Role: m.Role})
	}
	return rev, true, nil
}

func parseCoord(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}
