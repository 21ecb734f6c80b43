package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/roach88/reparanda/internal/osm"
)

// Domain prefixes for content hashes. The version suffix allows changing
// the document layout without colliding with old journal entries.
const (
	DomainCorrected = "reparanda/corrected/v1"
	DomainRevision  = "reparanda/revision/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Document converts rev into a canonical-JSON-ready value. Coordinates are
// rendered as fixed seven-digit decimal strings, the API's own precision.
func Document(rev *osm.Revision) map[string]any {
	doc := map[string]any{
		"kind":    rev.Kind.String(),
		"id":      rev.ID,
		"version": rev.Version,
		"visible": rev.Visible,
		"tags":    map[string]string(rev.Tags.Clone()),
	}
	switch rev.Kind {
	case osm.KindNode:
		doc["lat"] = strconv.FormatFloat(rev.Lat, 'f', 7, 64)
		doc["lon"] = strconv.FormatFloat(rev.Lon, 'f', 7, 64)
	case osm.KindWay:
		doc["nodes"] = append([]int64{}, rev.Nodes...)
	case osm.KindRelation:
		members := make([]any, len(rev.Members))
		for i, m := range rev.Members {
			members[i] = map[string]any{"type": m.Type.String(), "ref": m.Ref, "role": m.Role}
		}
		doc["members"] = members
	}
	return doc
}

// CorrectionHash identifies the content of a corrected revision. Two
// corrections of the same entity version that upload identical content hash
// the same.
func CorrectionHash(rev *osm.Revision) (string, error) {
	data, err := Marshal(Document(rev))
	if err != nil {
		return "", fmt.Errorf("CorrectionHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainCorrected, data), nil
}

// RevisionHash identifies a historical revision including its metadata. It
// guards cached revisions against torn writes.
func RevisionHash(rev *osm.Revision) (string, error) {
	doc := Document(rev)
	doc["changeset"] = rev.Changeset
	doc["user"] = rev.User
	doc["uid"] = rev.UID
	doc["timestamp"] = rev.Timestamp.UTC().Format("2006-01-02T15:04:05Z")
	data, err := Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("RevisionHash: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainRevision, data), nil
}
