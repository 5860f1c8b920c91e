package server

import (
	"github.com/microcosm-cc/bluemonday"

	"github.com/joseph-ayodele/trade-ingest/internal/pipeline"
)

// Recognized text and file names come from user images; strip any markup before echoing them.
var textPolicy = bluemonday.StrictPolicy()

func clean(s string) string {
	if s == "" {
		return s
	}
	return textPolicy.Sanitize(s)
}

// sanitizeStatus cleans the free-text fields of a status snapshot. Published snapshots are
// shared between readers, so slices and pointers are copied before they are cleaned.
func sanitizeStatus(st pipeline.Status) pipeline.Status {
	st.Error = clean(st.Error)
	st.Images = append(make([]pipeline.ImageStatus, 0, len(st.Images)), st.Images...)
	st.Candidates = append(make([]pipeline.CandidateStatus, 0, len(st.Candidates)), st.Candidates...)
	st.Warnings = append(make([]pipeline.Warning, 0, len(st.Warnings)), st.Warnings...)
	for i := range st.Images {
		st.Images[i].Name = clean(st.Images[i].Name)
		st.Images[i].Error = clean(st.Images[i].Error)
	}
	for i := range st.Candidates {
		c := &st.Candidates[i]
		c.Symbol = clean(c.Symbol)
		if c.Verdict.Conflict != nil {
			conflict := *c.Verdict.Conflict
			conflict.Symbol = clean(conflict.Symbol)
			c.Verdict.Conflict = &conflict
		}
	}
	for i := range st.Warnings {
		st.Warnings[i].Symbol = clean(st.Warnings[i].Symbol)
	}
	return st
}
