package osm

import (
	"encoding/json"
	"fmt"
	"time"
)

// wireObject is the on-the-wire shape for both Overpass API responses and
// Object Cache payloads. A single shape covers all three kinds, following
// the Overpass JSON convention of a "type" discriminator plus kind-specific
// fields ("lon"/"lat", "nodes", "members").
type wireObject struct {
	Type      string            `json:"type"`
	ID        int64             `json:"id"`
	Version   int               `json:"version,omitempty"`
	Changeset int64             `json:"changeset,omitempty"`
	Timestamp string            `json:"timestamp,omitempty"`
	Tags      map[string]string `json:"tags,omitempty"`

	Lon *float64 `json:"lon,omitempty"`
	Lat *float64 `json:"lat,omitempty"`

	Nodes []int64 `json:"nodes,omitempty"`

	Members []wireMember `json:"members,omitempty"`
}

type wireMember struct {
	Type string `json:"type"`
	Ref  int64  `json:"ref"`
	Role string `json:"role"`
}

const timestampLayout = "2006-01-02T15:04:05Z"

// MarshalJSON implements the cache payload / Overpass response encoding.
func (o *Object) MarshalJSON() ([]byte, error) {
	w := wireObject{
		Type:      kindName(o.Kind),
		ID:        o.ID,
		Version:   o.Version,
		Changeset: o.Changeset,
		Tags:      o.Tags,
	}
	if !o.Timestamp.IsZero() {
		w.Timestamp = o.Timestamp.UTC().Format(timestampLayout)
	}
	switch o.Kind {
	case KindNode:
		lon, lat := o.Lon, o.Lat
		w.Lon, w.Lat = &lon, &lat
	case KindWay:
		w.Nodes = o.Nodes
	case KindRelation:
		w.Members = make([]wireMember, len(o.Members))
		for i, m := range o.Members {
			w.Members[i] = wireMember{Type: kindName(m.Kind), Ref: m.ID, Role: m.Role}
		}
	}
	return json.Marshal(w)
}

// UnmarshalJSON implements the cache payload / Overpass response decoding.
func (o *Object) UnmarshalJSON(data []byte) error {
	var w wireObject
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	kind, err := ParseKind(w.Type)
	if err != nil {
		return err
	}
	o.Kind = kind
	o.ID = w.ID
	o.Version = w.Version
	o.Changeset = w.Changeset
	o.Tags = w.Tags
	if w.Timestamp != "" {
		ts, err := time.Parse(timestampLayout, w.Timestamp)
		if err != nil {
			return fmt.Errorf("osm: parsing timestamp %q: %w", w.Timestamp, err)
		}
		o.Timestamp = ts
	}
	switch kind {
	case KindNode:
		if w.Lon != nil {
			o.Lon = *w.Lon
		}
		if w.Lat != nil {
			o.Lat = *w.Lat
		}
	case KindWay:
		o.Nodes = w.Nodes
	case KindRelation:
		o.Members = make([]Member, len(w.Members))
		for i, m := range w.Members {
			mk, err := ParseKind(m.Type)
			if err != nil {
				return err
			}
			o.Members[i] = Member{Kind: mk, ID: m.Ref, Role: m.Role}
		}
	}
	return nil
}

func kindName(k Kind) string {
	switch k {
	case KindNode:
		return "node"
	case KindWay:
		return "way"
	case KindRelation:
		return "relation"
	default:
		return ""
	}
}
