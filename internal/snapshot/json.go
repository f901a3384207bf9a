package snapshot

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// The wire format is one object per run keyed by run id, preserving
// insertion order, under a header carrying the runbook identity:
//
//	{"org": ..., "workspace": ..., "name": ..., "ended_at": ...,
//	 "runs": {"<run id>": {...}, ...}}
//
// Plain encoding/json maps would reorder keys, so runs marshal by hand.

type snapshotHeader struct {
	Org       string `json:"org,omitempty"`
	Workspace string `json:"workspace,omitempty"`
	Name      string `json:"name"`
	EndedAt   string `json:"ended_at"`
}

func (s *ExecutionSnapshot) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	header, err := json.Marshal(snapshotHeader{
		Org:       s.Org,
		Workspace: s.Workspace,
		Name:      s.Name,
		EndedAt:   s.EndedAt,
	})
	if err != nil {
		return nil, err
	}
	// splice the runs object into the header object
	b.Write(header[:len(header)-1])
	b.WriteString(`,"runs":{`)
	for i, run := range s.runs {
		if i > 0 {
			b.WriteByte(',')
		}
		key, err := json.Marshal(run.ID)
		if err != nil {
			return nil, err
		}
		b.Write(key)
		b.WriteByte(':')
		body, err := json.Marshal(run)
		if err != nil {
			return nil, err
		}
		b.Write(body)
	}
	b.WriteString("}}")
	return b.Bytes(), nil
}

func (s *ExecutionSnapshot) UnmarshalJSON(data []byte) error {
	var header snapshotHeader
	if err := json.Unmarshal(data, &header); err != nil {
		return err
	}
	s.Org = header.Org
	s.Workspace = header.Workspace
	s.Name = header.Name
	s.EndedAt = header.EndedAt
	s.runs = nil

	// walk the runs object with a decoder to keep insertion order
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if _, err := dec.Token(); err != nil { // {
		return err
	}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := keyTok.(string)
		if key != "runs" {
			var skip json.RawMessage
			if err := dec.Decode(&skip); err != nil {
				return err
			}
			continue
		}
		if _, err := dec.Token(); err != nil { // {
			return err
		}
		for dec.More() {
			idTok, err := dec.Token()
			if err != nil {
				return err
			}
			id, ok := idTok.(string)
			if !ok {
				return fmt.Errorf("run id is not a string: %v", idTok)
			}
			var run RunSnapshot
			if err := dec.Decode(&run); err != nil {
				return err
			}
			run.ID = id
			s.runs = append(s.runs, &run)
		}
		if _, err := dec.Token(); err != nil { // }
			return err
		}
	}
	return nil
}

// Normalize round-trips the snapshot through its serialized form so two
// snapshots diff on wire representation, not in-memory accidents.
func (s *ExecutionSnapshot) Normalize() (*ExecutionSnapshot, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to serialize snapshot: %w", err)
	}
	var out ExecutionSnapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to round-trip snapshot: %w", err)
	}
	return &out, nil
}
