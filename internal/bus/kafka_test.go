package bus

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/MeKo-Tech/osm-engine/internal/osm"
)

func TestEncodeChangeUsesNewAsSubject(t *testing.T) {
	change := osm.ObjectChange{
		Type: osm.ChangeCreate,
		New:  &osm.Object{Kind: osm.KindNode, ID: 1, Tags: map[string]string{"amenity": "cafe"}},
	}
	key, body, err := encodeChange(change, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("encodeChange: %v", err)
	}
	if key != "n1" {
		t.Errorf("key = %q, want n1", key)
	}
	var decoded changeMessage
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.SubjectID != "n1" || decoded.Tags["amenity"] != "cafe" {
		t.Errorf("unexpected decoded message: %+v", decoded)
	}
}

func TestEncodeChangeFallsBackToOldForDelete(t *testing.T) {
	change := osm.ObjectChange{
		Type: osm.ChangeDelete,
		Old:  &osm.Object{Kind: osm.KindWay, ID: 5},
	}
	key, _, err := encodeChange(change, time.Now())
	if err != nil {
		t.Fatalf("encodeChange: %v", err)
	}
	if key != "w5" {
		t.Errorf("key = %q, want w5", key)
	}
}
