package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/reparanda/internal/canonical"
	"github.com/roach88/reparanda/internal/osm"
)

// marshalChangesets converts changeset ids to canonical JSON TEXT.
func marshalChangesets(ids []int64) (string, error) {
	if ids == nil {
		ids = []int64{}
	}
	data, err := canonical.Marshal(ids)
	if err != nil {
		return "", fmt.Errorf("marshal changesets: %w", err)
	}
	return string(data), nil
}

func unmarshalChangesets(data string) ([]int64, error) {
	if data == "" || data == "[]" {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal([]byte(data), &ids); err != nil {
		return nil, fmt.Errorf("unmarshal changesets: %w", err)
	}
	return ids, nil
}

// revisionRecord is the cached form of a revision.
type revisionRecord struct {
	Kind      string            `json:"kind"`
	ID        int64             `json:"id"`
	Version   int               `json:"version"`
	Changeset int64             `json:"changeset"`
	User      string            `json:"user,omitempty"`
	UID       int64             `json:"uid,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	Visible   bool              `json:"visible"`
	Lat       float64           `json:"lat,omitempty"`
	Lon       float64           `json:"lon,omitempty"`
	Nodes     []int64           `json:"nodes,omitempty"`
	Members   []memberRecord    `json:"members,omitempty"`
	Tags      map[string]string `json:"tags"`
}

type memberRecord struct {
	Type string `json:"type"`
	Ref  int64  `json:"ref"`
	Role string `json:"role"`
}

func marshalRevision(rev *osm.Revision) (string, error) {
	rec := revisionRecord{
		Kind:      rev.Kind.String(),
		ID:        rev.ID,
		Version:   rev.Version,
		Changeset: rev.Changeset,
		User:      rev.User,
		UID:       rev.UID,
		Visible:   rev.Visible,
		Lat:       rev.Lat,
		Lon:       rev.Lon,
		Nodes:     rev.Nodes,
		Tags:      rev.Tags,
	}
	if !rev.Timestamp.IsZero() {
		rec.Timestamp = rev.Timestamp.UTC().Format(time.RFC3339)
	}
	for _, m := range rev.Members {
		rec.Members = append(rec.Members, memberRecord{Type: m.Type.String(), Ref: m.Ref, Role: m.Role})
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return "", fmt.Errorf("marshal revision: %w", err)
	}
	return string(data), nil
}

func unmarshalRevision(data string) (*osm.Revision, error) {
	var rec revisionRecord
	if err := json.Unmarshal([]byte(data), &rec); err != nil {
		return nil, fmt.Errorf("unmarshal revision: %w", err)
	}
	kind, err := osm.ParseKind(rec.Kind)
	if err != nil {
		return nil, fmt.Errorf("unmarshal revision: %w", err)
	}
	rev := &osm.Revision{
		Kind:      kind,
		ID:        rec.ID,
		Version:   rec.Version,
		Changeset: rec.Changeset,
		User:      rec.User,
		UID:       rec.UID,
		Visible:   rec.Visible,
		Lat:       rec.Lat,
		Lon:       rec.Lon,
		Nodes:     rec.Nodes,
		Tags:      osm.Tags(rec.Tags).Clone(),
	}
	if rec.Timestamp != "" {
		if rev.Timestamp, err = time.Parse(time.RFC3339, rec.Timestamp); err != nil {
			return nil, fmt.Errorf("unmarshal revision: %w", err)
		}
	}
	for _, m := range rec.Members {
		mt, err := osm.ParseKind(m.Type)
		if err != nil {
			return nil, fmt.Errorf("unmarshal revision: %w", err)
		}
		rev.Members = append(rev.Members, osm.Member{Type: mt, Ref: m.Ref, Role: m.Role})
	}
	return rev, nil
}
