package dispatch

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
	"unicode/utf8"

	"github.com/roach88/reparanda/internal/osm"
)

// MaxTagLength is the API limit for keys and values, in characters.
const MaxTagLength = 255

var (
	// ErrChangesetNotOpen means an entity was formatted before any changeset
	// was opened. It is a programming error.
	ErrChangesetNotOpen = errors.New("no changeset is open")

	// ErrTagTooLong means a key or value exceeds MaxTagLength.
	ErrTagTooLong = errors.New("key or value is too long")
)

// Builder renders the upload documents of the changeset API.
type Builder struct {
	user         string
	createdBy    string
	autoConflict bool
	changeset    int64
}

// NewBuilder creates a builder. user is written into every entity, createdBy
// into every changeset.
func NewBuilder(user, createdBy string, automaticConflictSolution bool) *Builder {
	return &Builder{user: user, createdBy: createdBy, autoConflict: automaticConflictSolution}
}

// SetChangeset sets the changeset id written into entities.
func (b *Builder) SetChangeset(id int64) {
	b.changeset = id
}

// Changeset renders the document for /changeset/create. The comment is cut
// to MaxTagLength characters.
func (b *Builder) Changeset(comment string) ([]byte, error) {
	var buf bytes.Buffer
	header(&buf)
	buf.WriteString("  <changeset>\n")
	tags := [][2]string{
		{"created_by", b.createdBy},
		{"comment", truncate(comment, MaxTagLength)},
		{"bot", "yes"},
		{"reverting", "yes"},
	}
	if b.autoConflict {
		tags = append(tags, [2]string{"automatic_conflict_solution", "yes"})
	}
	for _, kv := range tags {
		if err := writeTag(&buf, kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	buf.WriteString("  </changeset>\n")
	buf.WriteString("</osm>\n")
	return buf.Bytes(), nil
}

// Entity renders a single-entity document for PUT /{kind}/{id}. Tags are
// written in key order.
func (b *Builder) Entity(rev *osm.Revision) ([]byte, error) {
	if b.changeset == 0 {
		return nil, ErrChangesetNotOpen
	}
	var buf bytes.Buffer
	header(&buf)
	fmt.Fprintf(&buf, "  <%s id=\"%d\" changeset=\"%d\" version=\"%d\" visible=\"%t\" user=%s",
		rev.Kind, rev.ID, b.changeset, rev.Version, rev.Visible, quote(b.user))
	if rev.Kind == osm.KindNode {
		fmt.Fprintf(&buf, " lat=\"%s\" lon=\"%s\"", coord(rev.Lat), coord(rev.Lon))
	}
	buf.WriteString(">\n")

	switch rev.Kind {
	case osm.KindWay:
		for _, ref := range rev.Nodes {
			fmt.Fprintf(&buf, "    <nd ref=\"%d\"/>\n", ref)
		}
	case osm.KindRelation:
		for _, m := range rev.Members {
			fmt.Fprintf(&buf, "    <member type=%s ref=\"%d\" role=%s/>\n", quote(m.Type.String()), m.Ref, quote(m.Role))
		}
	}
	for _, k := range rev.Tags.SortedKeys() {
		if err := writeTag(&buf, k, rev.Tags[k]); err != nil {
			return nil, fmt.Errorf("%s: %w", rev, err)
		}
	}
	fmt.Fprintf(&buf, "  </%s>\n", rev.Kind)
	buf.WriteString("</osm>\n")
	return buf.Bytes(), nil
}

func header(buf *bytes.Buffer) {
	buf.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	buf.WriteString("<osm version=\"0.6\">\n")
}

func writeTag(buf *bytes.Buffer, k, v string) error {
	for _, s := range []string{k, v} {
		if utf8.RuneCountInString(s) > MaxTagLength {
			return fmt.Errorf("%w: %.40q...", ErrTagTooLong, s)
		}
	}
	fmt.Fprintf(buf, "    <tag k=%s v=%s/>\n", quote(k), quote(v))
	return nil
}

// quote escapes s for use as a double-quoted attribute value.
func quote(s string) string {
	var buf bytes.Buffer
	buf.WriteByte('"')
	_ = xml.EscapeText(&buf, []byte(s))
	buf.WriteByte('"')
	return buf.String()
}

func coord(f float64) string {
	return strconv.FormatFloat(f, 'f', 7, 64)
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
