// Package diffstream implements the Differential Stream: it turns an
// Overpass augmented-diff ("adiff") response into a sequence of
// osm.ObjectChange records in document order (spec.md §4.6).
package diffstream

import (
	"encoding/xml"
	"fmt"
	"io"
	"time"

	"github.com/MeKo-Tech/osm-engine/internal/osm"
)

type adiffTag struct {
	K string `xml:"k,attr"`
	V string `xml:"v,attr"`
}

type adiffNd struct {
	Ref int64 `xml:"ref,attr"`
}

type adiffMember struct {
	Type string `xml:"type,attr"`
	Ref  int64  `xml:"ref,attr"`
	Role string `xml:"role,attr"`
}

type adiffElement struct {
	XMLName   xml.Name
	ID        int64         `xml:"id,attr"`
	Version   int           `xml:"version,attr"`
	Changeset int64         `xml:"changeset,attr"`
	Timestamp string        `xml:"timestamp,attr"`
	Lat       float64       `xml:"lat,attr"`
	Lon       float64       `xml:"lon,attr"`
	Nodes     []adiffNd     `xml:"nd"`
	Members   []adiffMember `xml:"member"`
	Tags      []adiffTag    `xml:"tag"`
}

func (e *adiffElement) toObject() (*osm.Object, error) {
	var kind osm.Kind
	switch e.XMLName.Local {
	case "node":
		kind = osm.KindNode
	case "way":
		kind = osm.KindWay
	case "relation":
		kind = osm.KindRelation
	default:
		return nil, fmt.Errorf("diffstream: unrecognised element %q", e.XMLName.Local)
	}

	obj := &osm.Object{
		Kind:      kind,
		ID:        e.ID,
		Version:   e.Version,
		Changeset: e.Changeset,
		Lon:       e.Lon,
		Lat:       e.Lat,
	}
	if e.Timestamp != "" {
		ts, err := time.Parse(time.RFC3339, e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("diffstream: parsing timestamp %q: %w", e.Timestamp, err)
		}
		obj.Timestamp = ts
	}
	if len(e.Tags) > 0 {
		obj.Tags = make(map[string]string, len(e.Tags))
		for _, t := range e.Tags {
			obj.Tags[t.K] = t.V
		}
	}
	if len(e.Nodes) > 0 {
		obj.Nodes = make([]int64, len(e.Nodes))
		for i, n := range e.Nodes {
			obj.Nodes[i] = n.Ref
		}
	}
	if len(e.Members) > 0 {
		obj.Members = make([]osm.Member, len(e.Members))
		for i, m := range e.Members {
			kind, err := memberKind(m.Type)
			if err != nil {
				return nil, err
			}
			obj.Members[i] = osm.Member{Kind: kind, ID: m.Ref, Role: m.Role}
		}
	}
	return obj, nil
}

func memberKind(typ string) (osm.Kind, error) {
	switch typ {
	case "node":
		return osm.KindNode, nil
	case "way":
		return osm.KindWay, nil
	case "relation":
		return osm.KindRelation, nil
	default:
		return 0, fmt.Errorf("diffstream: unknown member type %q", typ)
	}
}

// side holds whichever single object variant an <old> or <new> wrapper
// carries — Overpass always nests exactly one node/way/relation element
// inside it, matching the kind the enclosing query asked for.
type side struct {
	Node     *adiffElement `xml:"node"`
	Way      *adiffElement `xml:"way"`
	Relation *adiffElement `xml:"relation"`
}

func (s *side) object() (*osm.Object, error) {
	switch {
	case s.Node != nil:
		s.Node.XMLName.Local = "node"
		return s.Node.toObject()
	case s.Way != nil:
		s.Way.XMLName.Local = "way"
		return s.Way.toObject()
	case s.Relation != nil:
		s.Relation.XMLName.Local = "relation"
		return s.Relation.toObject()
	default:
		return nil, nil
	}
}

type adiffAction struct {
	Type string `xml:"type,attr"`
	Old  *side  `xml:"old"`
	New  *side  `xml:"new"`
}

func (a *adiffAction) toChange() (*osm.ObjectChange, error) {
	change := &osm.ObjectChange{}
	switch a.Type {
	case "create":
		change.Type = osm.ChangeCreate
	case "modify":
		change.Type = osm.ChangeModify
	case "delete":
		change.Type = osm.ChangeDelete
	default:
		return nil, fmt.Errorf("diffstream: unknown action type %q", a.Type)
	}

	if a.Old != nil {
		old, err := a.Old.object()
		if err != nil {
			return nil, fmt.Errorf("diffstream: decoding <old>: %w", err)
		}
		change.Old = old
	}
	if a.New != nil {
		n, err := a.New.object()
		if err != nil {
			return nil, fmt.Errorf("diffstream: decoding <new>: %w", err)
		}
		change.New = n
	}
	if err := change.Validate(); err != nil {
		return nil, fmt.Errorf("diffstream: %w", err)
	}
	return change, nil
}

// ChangeIterator yields osm.ObjectChange records from an Overpass adiff
// XML body in document order, one <action> element at a time — it never
// builds the full document tree in memory.
type ChangeIterator struct {
	dec *xml.Decoder
}

// NewChangeIterator wraps an adiff XML body. The caller owns closing r.
func NewChangeIterator(r io.Reader) *ChangeIterator {
	return &ChangeIterator{dec: xml.NewDecoder(r)}
}

// Next returns the next change record, or io.EOF once the document is
// exhausted.
func (it *ChangeIterator) Next() (*osm.ObjectChange, error) {
	for {
		tok, err := it.dec.Token()
		if err == io.EOF {
			return nil, io.EOF
		}
		if err != nil {
			return nil, fmt.Errorf("diffstream: reading token: %w", err)
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "action" {
			continue
		}
		var action adiffAction
		if err := it.dec.DecodeElement(&action, &start); err != nil {
			return nil, fmt.Errorf("diffstream: decoding action: %w", err)
		}
		return action.toChange()
	}
}
