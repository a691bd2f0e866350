package models

import (
	"crypto/sha1"
	"encoding/hex"
	"time"
)

// CitationEntry is one row of a job's citation ledger: a deduplicated
// source with a dense, per-job citation number. (job_id, source_hash) and
// (job_id, citation_number) are both unique; numbers restart at 1 for
// every job.
type CitationEntry struct {
	// ID is the composite storage key "{job_id}|{source_hash}", which makes
	// the insert idempotent against concurrent retries.
	ID             string    `json:"id"`
	JobID          string    `json:"job_id"`
	SourceHash     string    `json:"source_hash"`
	CitationNumber int       `json:"citation_number"` // 1-based, dense per job
	Title          string    `json:"title,omitempty"`
	URL            string    `json:"url,omitempty"`
	AccessedAt     time.Time `json:"accessed_at"`
}

// CitationSource identifies a source for ledger assignment. Any component
// may be empty; the hash covers all three.
type CitationSource struct {
	URL           string
	Title         string
	RawStorageURL string
}

// Hash returns the stable SHA1 digest over {url, title, raw_storage_url}.
func (s CitationSource) Hash() string {
	h := sha1.New()
	h.Write([]byte(s.URL))
	h.Write([]byte("|"))
	h.Write([]byte(s.Title))
	h.Write([]byte("|"))
	h.Write([]byte(s.RawStorageURL))
	return hex.EncodeToString(h.Sum(nil))
}

// LedgerKey builds the composite storage key for a job/source pair.
func LedgerKey(jobID, sourceHash string) string {
	return jobID + "|" + sourceHash
}
