package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ManifestEntry is the lightweight projection of a cached Transcript.
type ManifestEntry struct {
	VideoID         string    `json:"-"`
	Language        string    `json:"language"`
	SegmentCount    int       `json:"segment_count"`
	TotalChars      int       `json:"total_chars"`
	DurationSeconds float64   `json:"duration_seconds"`
	CachedAt        Timestamp `json:"cached_at"`
	Path            string    `json:"path"`
}

// Manifest maps video IDs to entries and remembers insertion order.
// Overwriting an existing ID keeps its original position.
type Manifest struct {
	order   []string
	entries map[string]ManifestEntry
}

func NewManifest() *Manifest {
	return &Manifest{entries: make(map[string]ManifestEntry)}
}

func (m *Manifest) Len() int {
	return len(m.order)
}

func (m *Manifest) Get(videoID string) (ManifestEntry, bool) {
	e, ok := m.entries[videoID]
	return e, ok
}

func (m *Manifest) Set(e ManifestEntry) {
	if m.entries == nil {
		m.entries = make(map[string]ManifestEntry)
	}
	if _, exists := m.entries[e.VideoID]; !exists {
		m.order = append(m.order, e.VideoID)
	}
	m.entries[e.VideoID] = e
}

// Entries returns all entries in insertion order.
func (m *Manifest) Entries() []ManifestEntry {
	out := make([]ManifestEntry, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.entries[id])
	}
	return out
}

func (m *Manifest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"videos":{`)
	for i, id := range m.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id)
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(m.entries[id])
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

func (m *Manifest) UnmarshalJSON(data []byte) error {
	var doc struct {
		Videos json.RawMessage `json:"videos"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	m.order = nil
	m.entries = make(map[string]ManifestEntry)
	if len(doc.Videos) == 0 || string(doc.Videos) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(doc.Videos))
	if tok, err := dec.Token(); err != nil {
		return err
	} else if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("manifest videos: expected object, got %v", tok)
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		id, ok := tok.(string)
		if !ok {
			return fmt.Errorf("manifest videos: expected key, got %v", tok)
		}
		var e ManifestEntry
		if err := dec.Decode(&e); err != nil {
			return fmt.Errorf("manifest entry %s: %w", id, err)
		}
		e.VideoID = id
		m.Set(e)
	}
	_, err := dec.Token()
	return err
}

// legacyLayout is an ISO-8601 timestamp without a zone offset.
const legacyLayout = "2006-01-02T15:04:05.999999999"

// Timestamp marshals as RFC 3339 and also accepts zone-less ISO-8601 values,
// which are read as local time.
type Timestamp struct {
	time.Time
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return json.Marshal(ts.Time.Format(time.RFC3339Nano))
}

func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	if s == "" {
		ts.Time = time.Time{}
		return nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		ts.Time = t
		return nil
	}
	t, err := time.ParseInLocation(legacyLayout, s, time.Local)
	if err != nil {
		return fmt.Errorf("invalid cached_at %q: %w", s, err)
	}
	ts.Time = t
	return nil
}
