// Package types defines the State Store's domain model: Publisher,
// Document, and Validation, plus the stage-progress and error-code
// vocabulary every worker family reads and writes (spec §3).
package types

import "time"

// Publisher is the organisation owning one or more Documents (spec §3).
type Publisher struct {
	OrgID             string
	ShortName         string
	Title             string
	IATIIdentifier    string
	DatasetCount      int
	Created           time.Time
	LastSeen          time.Time
	BlackFlag         *time.Time
	BlackFlagNotified bool
}

// IsBlackFlagged reports whether the publisher is currently suppressed.
func (p *Publisher) IsBlackFlagged() bool {
	return p.BlackFlag != nil
}

// DownloadErrorCode enumerates the Download-stage outcomes spec §4.4
// names. Modeled as a typed enum (rather than a bare int, the historical
// implementation's approach per spec §9) so call sites can't typo a
// magic number.
type DownloadErrorCode int16

const (
	// DownloadErrorNone means the document downloaded successfully;
	// never stored, just the zero-value sentinel for "no error".
	DownloadErrorNone DownloadErrorCode = 0
	// DownloadErrorConnectionRefused: TCP connection to bds_cache_url refused.
	DownloadErrorConnectionRefused DownloadErrorCode = 0
	// DownloadErrorTLS: TLS handshake failed.
	DownloadErrorTLS DownloadErrorCode = 1
	// DownloadErrorUndetectableCharset: 200 OK but the byte-sniffer
	// could not determine an encoding.
	DownloadErrorUndetectableCharset DownloadErrorCode = 2
	// DownloadErrorInvalidURLScheme: bds_cache_url isn't http(s).
	DownloadErrorInvalidURLScheme DownloadErrorCode = 3
	// DownloadErrorNoCacheURL: bds_cache_url is null.
	DownloadErrorNoCacheURL DownloadErrorCode = 4
	// DownloadErrorNotFound records an upstream 404; Download also uses it
	// when the upload to the source container fails. Documents with an
	// empty hash are not download candidates and never receive it.
	DownloadErrorNotFound DownloadErrorCode = 404
)

// StageProgress is the (<stage>_start, <stage>_end, <stage>_error) triple
// every stage maintains on a Document row.
type StageProgress struct {
	Start *time.Time
	End   *time.Time
	Error string
}

// InProgress reports whether this stage has been claimed but not resolved.
func (s StageProgress) InProgress() bool {
	return s.Start != nil && s.End == nil && s.Error == ""
}

// Done reports whether this stage completed without error.
func (s StageProgress) Done() bool {
	return s.End != nil && s.Error == ""
}

// Document is one XML file identified by an opaque BDS id (spec §3).
type Document struct {
	ID                       string
	Hash                     string
	URL                      string
	BDSCacheURL              *string
	Publisher                string
	Name                     string
	FirstSeen                time.Time
	LastSeen                 time.Time
	Modified                 *time.Time

	Downloaded      *time.Time
	DownloadError   *DownloadErrorCode

	ValidationRequest     *time.Time
	ValidationAPIError    *int
	FileSchemaValid       *bool
	ValidationID          *int64

	Clean StageProgress

	Flatten             StageProgress
	FlattenedActivities []map[string]any

	Lakify StageProgress

	Solrize          StageProgress
	LastSolrizeEnd   *time.Time
	SolrizeReindex   bool

	RegenerateValidationReport bool
}

// HasContent reports whether BDS has ever supplied a hash for this
// document; empty-hash documents are skipped by Download per spec §3.
func (d *Document) HasContent() bool {
	return d.Hash != ""
}

// ReadyForClean reports whether Validate's output lets Clean proceed.
// Claiming is still the caller's job; this is the read-only predicate
// half of spec §4.1's "bridging the previous stage's completion".
func (d *Document) ReadyForClean() bool {
	return d.ValidationID != nil && d.Clean.Start == nil && d.Clean.End == nil
}

// ValidationReport is the append-only report of one validation run
// (spec §3). `Report` is the opaque structured blob returned by the
// upstream validator, stored as-is.
type ValidationReport struct {
	ID             int64
	DocumentID     string
	DocumentHash   string
	DocumentURL    string
	Publisher      string
	PublisherName  string
	Created        time.Time
	Valid          bool
	FileType       string
	IATIVersion    string
	Report         map[string]any
	ActivityIndex  []ActivityValidity
}

// ActivityValidity is one entry of a full-validation report's
// per-activity validity index (spec §4.5 "?meta=true").
type ActivityValidity struct {
	Index int
	Valid bool
}
