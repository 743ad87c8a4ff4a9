package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/iati-pipeline/core/pkg/pipeline/types"
)

// DB wraps the connection pool every Accessor method runs against. A
// pgxpool.Pool backs the high-throughput claim queries; sqlx.DB rides the
// same dsn for the struct-scanning reads, the way jordigilh-kubernaut
// pairs pgx with sqlx rather than picking one exclusively.
type DB struct {
	pool *pgxpool.Pool
	sqlx *sqlx.DB
}

// Connect opens the pool, retrying with exponential backoff (the pattern
// cuemby-warren's boltdb.Open doesn't need, but the pack's pgx-using
// repos apply to every remote dial): waits start at sleepStart, each is
// capped at sleepMax, and Connect gives up after retryLimit retries or
// once backoff's default maximum elapsed time passes.
func Connect(ctx context.Context, dsn string, sleepStart, sleepMax time.Duration, retryLimit int) (*DB, error) {
	var pool *pgxpool.Pool
	var sqlxdb *sqlx.DB

	op := func() error {
		p, err := pgxpool.New(ctx, dsn)
		if err != nil {
			return fmt.Errorf("open pgx pool: %w", err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return fmt.Errorf("ping: %w", err)
		}

		sdb, err := sqlx.Open("pgx", dsn)
		if err != nil {
			p.Close()
			return fmt.Errorf("open sqlx: %w", err)
		}
		if err := sdb.PingContext(ctx); err != nil {
			p.Close()
			sdb.Close()
			return fmt.Errorf("ping sqlx: %w", err)
		}

		pool, sqlxdb = p, sdb
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = sleepStart
	bo.MaxInterval = sleepMax
	policy := backoff.WithMaxRetries(bo, uint64(retryLimit))

	if err := backoff.Retry(op, policy); err != nil {
		return nil, fmt.Errorf("connect to state store: %w", err)
	}
	return &DB{pool: pool, sqlx: sqlxdb}, nil
}

func (db *DB) Close() error {
	db.pool.Close()
	return db.sqlx.Close()
}

// SQLDB exposes the underlying *sql.DB for pkg/store/migrate and
// /healthz pings, which take goose's and database/sql's types directly
// rather than this package's Accessor interface.
func (db *DB) SQLDB() *sql.DB {
	return db.sqlx.DB
}

// Ping is the dependency check cmd/pipeline wires into adminserver's
// /healthz for the state store.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// documentRow mirrors the document table's columns one-to-one so sqlx can
// scan directly into it before Accessor methods translate to types.Document.
type documentRow struct {
	ID                         string          `db:"id"`
	Hash                       string          `db:"hash"`
	URL                        string          `db:"url"`
	BDSCacheURL                sql.NullString  `db:"bds_cache_url"`
	Publisher                  string          `db:"publisher"`
	Name                       string          `db:"name"`
	FirstSeen                  time.Time       `db:"first_seen"`
	LastSeen                   time.Time       `db:"last_seen"`
	Modified                   sql.NullTime    `db:"modified"`
	Downloaded                 sql.NullTime    `db:"downloaded"`
	DownloadError              sql.NullInt16   `db:"download_error"`
	ValidationRequest          sql.NullTime    `db:"validation_request"`
	ValidationAPIError         sql.NullInt32   `db:"validation_api_error"`
	FileSchemaValid            sql.NullBool    `db:"file_schema_valid"`
	ValidationID               sql.NullInt64   `db:"validation"`
	RegenerateValidationReport bool            `db:"regenerate_validation_report"`
	CleanStart                 sql.NullTime    `db:"clean_start"`
	CleanEnd                   sql.NullTime    `db:"clean_end"`
	CleanError                 sql.NullString  `db:"clean_error"`
	FlattenStart               sql.NullTime    `db:"flatten_start"`
	FlattenEnd                 sql.NullTime    `db:"flatten_end"`
	FlattenError               sql.NullString  `db:"flatten_error"`
	FlattenedActivities        []byte          `db:"flattened_activities"`
	LakifyStart                sql.NullTime    `db:"lakify_start"`
	LakifyEnd                  sql.NullTime    `db:"lakify_end"`
	LakifyError                sql.NullString  `db:"lakify_error"`
	SolrizeStart               sql.NullTime    `db:"solrize_start"`
	SolrizeEnd                 sql.NullTime    `db:"solrize_end"`
	SolrizeError               sql.NullString  `db:"solrize_error"`
	LastSolrizeEnd             sql.NullTime    `db:"last_solrize_end"`
	SolrizeReindex             bool            `db:"solrize_reindex"`
}

func (r documentRow) toDocument() *types.Document {
	d := &types.Document{
		ID:                         r.ID,
		Hash:                       r.Hash,
		URL:                        r.URL,
		Publisher:                  r.Publisher,
		Name:                       r.Name,
		FirstSeen:                  r.FirstSeen,
		LastSeen:                   r.LastSeen,
		RegenerateValidationReport: r.RegenerateValidationReport,
		SolrizeReindex:             r.SolrizeReindex,
		Clean:                      stageProgressHelper(r.CleanStart, r.CleanEnd, r.CleanError),
		Flatten:                    stageProgressHelper(r.FlattenStart, r.FlattenEnd, r.FlattenError),
		Lakify:                     stageProgressHelper(r.LakifyStart, r.LakifyEnd, r.LakifyError),
		Solrize:                    stageProgressHelper(r.SolrizeStart, r.SolrizeEnd, r.SolrizeError),
	}
	if r.BDSCacheURL.Valid {
		d.BDSCacheURL = &r.BDSCacheURL.String
	}
	if r.Modified.Valid {
		d.Modified = &r.Modified.Time
	}
	if r.Downloaded.Valid {
		d.Downloaded = &r.Downloaded.Time
	}
	if r.DownloadError.Valid {
		code := types.DownloadErrorCode(r.DownloadError.Int16)
		d.DownloadError = &code
	}
	if r.ValidationRequest.Valid {
		d.ValidationRequest = &r.ValidationRequest.Time
	}
	if r.ValidationAPIError.Valid {
		v := int(r.ValidationAPIError.Int32)
		d.ValidationAPIError = &v
	}
	if r.FileSchemaValid.Valid {
		d.FileSchemaValid = &r.FileSchemaValid.Bool
	}
	if r.ValidationID.Valid {
		d.ValidationID = &r.ValidationID.Int64
	}
	if r.LastSolrizeEnd.Valid {
		d.LastSolrizeEnd = &r.LastSolrizeEnd.Time
	}
	if len(r.FlattenedActivities) > 0 {
		_ = json.Unmarshal(r.FlattenedActivities, &d.FlattenedActivities)
	}
	return d
}

func stageProgressHelper(start, end sql.NullTime, errCol sql.NullString) types.StageProgress {
	sp := types.StageProgress{}
	if start.Valid {
		sp.Start = &start.Time
	}
	if end.Valid {
		sp.End = &end.Time
	}
	if errCol.Valid {
		sp.Error = errCol.String
	}
	return sp
}

func (db *DB) UpsertPublisher(ctx context.Context, p *types.Publisher) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO publisher (org_id, short_name, title, iati_identifier, dataset_count, created, last_seen)
		VALUES ($1, $2, $3, $4, $5, now(), now())
		ON CONFLICT (org_id) DO UPDATE SET
			short_name = EXCLUDED.short_name,
			title = EXCLUDED.title,
			iati_identifier = EXCLUDED.iati_identifier,
			dataset_count = EXCLUDED.dataset_count,
			last_seen = now()
	`, p.OrgID, p.ShortName, p.Title, p.IATIIdentifier, p.DatasetCount)
	return err
}

func (db *DB) GetPublisher(ctx context.Context, orgID string) (*types.Publisher, error) {
	var p types.Publisher
	row := db.sqlx.QueryRowxContext(ctx, `SELECT org_id, short_name, title, iati_identifier, dataset_count, created, last_seen, black_flag, black_flag_notified FROM publisher WHERE org_id = $1`, orgID)
	var blackFlag sql.NullTime
	if err := row.Scan(&p.OrgID, &p.ShortName, &p.Title, &p.IATIIdentifier, &p.DatasetCount, &p.Created, &p.LastSeen, &blackFlag, &p.BlackFlagNotified); err != nil {
		return nil, err
	}
	if blackFlag.Valid {
		p.BlackFlag = &blackFlag.Time
	}
	return &p, nil
}

func (db *DB) ListPublishers(ctx context.Context) ([]*types.Publisher, error) {
	rows, err := db.sqlx.QueryxContext(ctx, `SELECT org_id, short_name, title, iati_identifier, dataset_count, created, last_seen, black_flag, black_flag_notified FROM publisher`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*types.Publisher
	for rows.Next() {
		var p types.Publisher
		var blackFlag sql.NullTime
		if err := rows.Scan(&p.OrgID, &p.ShortName, &p.Title, &p.IATIIdentifier, &p.DatasetCount, &p.Created, &p.LastSeen, &blackFlag, &p.BlackFlagNotified); err != nil {
			return nil, err
		}
		if blackFlag.Valid {
			p.BlackFlag = &blackFlag.Time
		}
		out = append(out, &p)
	}
	return out, rows.Err()
}

func (db *DB) SetBlackFlag(ctx context.Context, orgID string, flagged *time.Time) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE publisher SET black_flag = $2, black_flag_notified = CASE WHEN $2::timestamptz IS NULL THEN false ELSE black_flag_notified END
		WHERE org_id = $1
	`, orgID, flagged)
	return err
}

func (db *DB) MarkBlackFlagNotified(ctx context.Context, orgID string) error {
	_, err := db.pool.Exec(ctx, `UPDATE publisher SET black_flag_notified = true WHERE org_id = $1`, orgID)
	return err
}

func (db *DB) RemovePublishersNotSeenAfter(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM publisher WHERE last_seen < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// InsertOrUpdateDocument upserts keyed on id. On hash change every
// downstream stage column is cleared in the same statement (spec §4.1);
// on unchanged hash only ownership/last_seen fields move.
func (db *DB) InsertOrUpdateDocument(ctx context.Context, d *types.Document) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO document (id, hash, url, bds_cache_url, publisher, name, first_seen, last_seen, modified)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now(), $7)
		ON CONFLICT (id) DO UPDATE SET
			hash = EXCLUDED.hash,
			url = EXCLUDED.url,
			bds_cache_url = EXCLUDED.bds_cache_url,
			name = EXCLUDED.name,
			modified = EXCLUDED.modified,
			last_seen = now(),
			downloaded = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.downloaded END,
			download_error = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.download_error END,
			validation_request = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.validation_request END,
			validation_api_error = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.validation_api_error END,
			file_schema_valid = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.file_schema_valid END,
			validation = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.validation END,
			clean_start = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.clean_start END,
			clean_end = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.clean_end END,
			clean_error = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.clean_error END,
			flatten_start = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.flatten_start END,
			flatten_end = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.flatten_end END,
			flatten_error = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.flatten_error END,
			flattened_activities = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.flattened_activities END,
			lakify_start = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.lakify_start END,
			lakify_end = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.lakify_end END,
			lakify_error = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.lakify_error END,
			solrize_start = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.solrize_start END,
			solrize_end = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.solrize_end END,
			solrize_error = CASE WHEN document.hash IS DISTINCT FROM EXCLUDED.hash THEN NULL ELSE document.solrize_error END
	`, d.ID, d.Hash, d.URL, d.BDSCacheURL, d.Publisher, d.Name, d.Modified)
	return err
}

func (db *DB) RecordDownloadResult(ctx context.Context, documentID string, downloaded *time.Time, code *types.DownloadErrorCode) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE document SET downloaded = $1, download_error = $2 WHERE id = $3
	`, downloaded, code, documentID)
	return err
}

func (db *DB) RecordSchemaValidationResult(ctx context.Context, documentID string, valid *bool, apiError *int) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE document SET file_schema_valid = $1, validation_api_error = $2, validation_request = now() WHERE id = $3
	`, valid, apiError, documentID)
	return err
}

func (db *DB) RecoverMissingSourceBlob(ctx context.Context, documentID string) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE document SET downloaded = NULL, clean_start = NULL, clean_end = NULL, clean_error = NULL WHERE id = $1
	`, documentID)
	return err
}

func (db *DB) claimStage(ctx context.Context, stage, documentID string) error {
	_, err := db.pool.Exec(ctx, fmt.Sprintf(`UPDATE document SET %s_start = now() WHERE id = $1`, stage), documentID)
	return err
}

func (db *DB) recordStageResult(ctx context.Context, stage, documentID, errMsg string) error {
	var errArg any
	if errMsg != "" {
		errArg = errMsg
	}
	_, err := db.pool.Exec(ctx, fmt.Sprintf(`UPDATE document SET %s_end = now(), %s_error = $1 WHERE id = $2`, stage, stage), errArg, documentID)
	return err
}

func (db *DB) ClaimClean(ctx context.Context, documentID string) error   { return db.claimStage(ctx, "clean", documentID) }
func (db *DB) ClaimFlatten(ctx context.Context, documentID string) error { return db.claimStage(ctx, "flatten", documentID) }
func (db *DB) ClaimLakify(ctx context.Context, documentID string) error  { return db.claimStage(ctx, "lakify", documentID) }
func (db *DB) ClaimSolrize(ctx context.Context, documentID string) error { return db.claimStage(ctx, "solrize", documentID) }

func (db *DB) RecordCleanResult(ctx context.Context, documentID, errMsg string) error {
	return db.recordStageResult(ctx, "clean", documentID, errMsg)
}

func (db *DB) RecordFlattenResult(ctx context.Context, documentID, errMsg string, activities []map[string]any) error {
	if errMsg != "" {
		return db.recordStageResult(ctx, "flatten", documentID, errMsg)
	}
	activitiesJSON, err := json.Marshal(activities)
	if err != nil {
		return fmt.Errorf("marshal flattened activities: %w", err)
	}
	_, err = db.pool.Exec(ctx, `UPDATE document SET flatten_end = now(), flatten_error = NULL, flattened_activities = $1 WHERE id = $2`, activitiesJSON, documentID)
	return err
}

func (db *DB) RecordLakifyResult(ctx context.Context, documentID, errMsg string) error {
	return db.recordStageResult(ctx, "lakify", documentID, errMsg)
}

func (db *DB) RecordSolrizeResult(ctx context.Context, documentID, errMsg string) error {
	if errMsg != "" {
		return db.recordStageResult(ctx, "solrize", documentID, errMsg)
	}
	_, err := db.pool.Exec(ctx, `
		UPDATE document SET solrize_end = now(), solrize_error = NULL, last_solrize_end = now(), solrize_reindex = false WHERE id = $1
	`, documentID)
	return err
}

func (db *DB) RecoverToClean(ctx context.Context, documentID string) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE document SET lakify_start = NULL, lakify_end = NULL, lakify_error = NULL,
			clean_start = NULL, clean_end = NULL, clean_error = NULL
		WHERE id = $1
	`, documentID)
	return err
}

func (db *DB) RecoverToLakify(ctx context.Context, documentID string) error {
	_, err := db.pool.Exec(ctx, `
		UPDATE document SET lakify_start = NULL, lakify_end = NULL, lakify_error = NULL WHERE id = $1
	`, documentID)
	return err
}

func (db *DB) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	var r documentRow
	if err := db.sqlx.GetContext(ctx, &r, `SELECT * FROM document WHERE id = $1`, id); err != nil {
		return nil, err
	}
	return r.toDocument(), nil
}

func (db *DB) selectDocuments(ctx context.Context, query string, args ...any) ([]*types.Document, error) {
	var rows []documentRow
	if err := db.sqlx.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	out := make([]*types.Document, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDocument())
	}
	return out, nil
}

func (db *DB) GetRefreshCandidates(ctx context.Context, publisher string) ([]*types.Document, error) {
	return db.selectDocuments(ctx, `SELECT * FROM document WHERE publisher = $1`, publisher)
}

// GetDownloadCandidates implements spec §4.1's get_refresh_candidates:
// every document with downloaded IS NULL, filtered to a clean prior
// attempt, or (when retrying) any error except invalid-URL-scheme (3).
func (db *DB) GetDownloadCandidates(ctx context.Context, retryErrors bool) ([]*types.Document, error) {
	if retryErrors {
		return db.selectDocuments(ctx, `SELECT * FROM document WHERE downloaded IS NULL AND hash <> '' AND (download_error IS NULL OR download_error <> 3)`)
	}
	return db.selectDocuments(ctx, `SELECT * FROM document WHERE downloaded IS NULL AND hash <> '' AND download_error IS NULL`)
}

func (db *DB) GetUnvalidated(ctx context.Context, limit int) ([]*types.Document, error) {
	return db.selectDocuments(ctx, `
		SELECT * FROM document
		WHERE hash <> '' AND downloaded IS NOT NULL
		  AND (file_schema_valid IS NULL OR validation IS NULL OR regenerate_validation_report)
		ORDER BY last_seen
		LIMIT $1
	`, limit)
}

func (db *DB) GetValidToCopy(ctx context.Context, limit int) ([]*types.Document, error) {
	return db.selectDocuments(ctx, `
		SELECT * FROM document
		WHERE file_schema_valid = true AND validation IS NOT NULL
		  AND clean_start IS NULL AND clean_end IS NULL
		ORDER BY last_seen
		LIMIT $1
	`, limit)
}

func (db *DB) GetInvalidToClean(ctx context.Context, limit int) ([]*types.Document, error) {
	return db.selectDocuments(ctx, `
		SELECT * FROM document
		WHERE file_schema_valid = false
		  AND clean_start IS NULL AND clean_end IS NULL
		ORDER BY last_seen
		LIMIT $1
	`, limit)
}

func (db *DB) GetUnflattened(ctx context.Context, limit int) ([]*types.Document, error) {
	return db.selectDocuments(ctx, `
		SELECT * FROM document
		WHERE clean_end IS NOT NULL AND clean_error IS NULL
		  AND flatten_start IS NULL AND flatten_end IS NULL
		ORDER BY last_seen
		LIMIT $1
	`, limit)
}

func (db *DB) GetUnlakified(ctx context.Context, limit int) ([]*types.Document, error) {
	return db.selectDocuments(ctx, `
		SELECT * FROM document
		WHERE flatten_end IS NOT NULL AND flatten_error IS NULL
		  AND lakify_start IS NULL AND lakify_end IS NULL
		ORDER BY last_seen
		LIMIT $1
	`, limit)
}

func (db *DB) GetUnsolrized(ctx context.Context, limit int) ([]*types.Document, error) {
	return db.selectDocuments(ctx, `
		SELECT * FROM document
		WHERE lakify_end IS NOT NULL AND lakify_error IS NULL
		  AND (solrize_start IS NULL AND solrize_end IS NULL OR solrize_reindex)
		ORDER BY last_seen
		LIMIT $1
	`, limit)
}

func (db *DB) GetFilesNotSeenAfter(ctx context.Context, publisher string, cutoff time.Time) ([]*types.Document, error) {
	return db.selectDocuments(ctx, `SELECT * FROM document WHERE publisher = $1 AND last_seen < $2`, publisher, cutoff)
}

func (db *DB) RemoveFilesNotSeenAfter(ctx context.Context, publisher string, cutoff time.Time) (int, error) {
	tag, err := db.pool.Exec(ctx, `DELETE FROM document WHERE publisher = $1 AND last_seen < $2`, publisher, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (db *DB) resetStage(ctx context.Context, stage string) (int, error) {
	query := fmt.Sprintf(`UPDATE document SET %[1]s_start = NULL, %[1]s_end = NULL, %[1]s_error = NULL WHERE %[1]s_start IS NOT NULL AND %[1]s_end IS NULL AND %[1]s_error IS NULL`, stage)
	tag, err := db.pool.Exec(ctx, query)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (db *DB) ResetUnfinishedDownload(ctx context.Context) (int, error) {
	tag, err := db.pool.Exec(ctx, `UPDATE document SET downloaded = NULL WHERE downloaded IS NULL AND download_error IS NULL AND hash <> ''`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (db *DB) ResetUnfinishedValidation(ctx context.Context) (int, error) {
	tag, err := db.pool.Exec(ctx, `UPDATE document SET validation_request = NULL WHERE validation_request IS NOT NULL AND file_schema_valid IS NULL AND validation_api_error IS NULL`)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (db *DB) ResetUnfinishedClean(ctx context.Context) (int, error)   { return db.resetStage(ctx, "clean") }
func (db *DB) ResetUnfinishedFlatten(ctx context.Context) (int, error) { return db.resetStage(ctx, "flatten") }
func (db *DB) ResetUnfinishedLakify(ctx context.Context) (int, error)  { return db.resetStage(ctx, "lakify") }
func (db *DB) ResetUnfinishedSolrize(ctx context.Context) (int, error) { return db.resetStage(ctx, "solrize") }

func (db *DB) UpdateValidationState(ctx context.Context, report *types.ValidationReport) error {
	reportJSON, err := json.Marshal(report.Report)
	if err != nil {
		return fmt.Errorf("marshal validation report: %w", err)
	}
	activityJSON, err := json.Marshal(report.ActivityIndex)
	if err != nil {
		return fmt.Errorf("marshal activity index: %w", err)
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var id int64
	err = tx.QueryRow(ctx, `
		INSERT INTO validation (document_id, document_hash, document_url, publisher, publisher_name, created, valid, file_type, iati_version, report, activity_index)
		VALUES ($1, $2, $3, $4, $5, now(), $6, $7, $8, $9, $10)
		RETURNING id
	`, report.DocumentID, report.DocumentHash, report.DocumentURL, report.Publisher, report.PublisherName, report.Valid, report.FileType, report.IATIVersion, reportJSON, activityJSON).Scan(&id)
	if err != nil {
		return fmt.Errorf("insert validation: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE document SET validation = $1, validation_request = now(), file_schema_valid = $2, regenerate_validation_report = false
		WHERE id = $3
	`, id, report.Valid, report.DocumentID)
	if err != nil {
		return fmt.Errorf("update document validation state: %w", err)
	}

	return tx.Commit(ctx)
}

func (db *DB) GetValidationReport(ctx context.Context, id int64) (*types.ValidationReport, error) {
	var vr types.ValidationReport
	var reportJSON, activityJSON []byte
	row := db.sqlx.QueryRowxContext(ctx, `SELECT id, document_id, document_hash, document_url, publisher, publisher_name, created, valid, file_type, iati_version, report, activity_index FROM validation WHERE id = $1`, id)
	if err := row.Scan(&vr.ID, &vr.DocumentID, &vr.DocumentHash, &vr.DocumentURL, &vr.Publisher, &vr.PublisherName, &vr.Created, &vr.Valid, &vr.FileType, &vr.IATIVersion, &reportJSON, &activityJSON); err != nil {
		return nil, err
	}
	_ = json.Unmarshal(reportJSON, &vr.Report)
	_ = json.Unmarshal(activityJSON, &vr.ActivityIndex)
	return &vr, nil
}

func (db *DB) QueueDepths(ctx context.Context) (QueueDepths, error) {
	var q QueueDepths
	row := db.pool.QueryRow(ctx, `
		SELECT
			count(*) FILTER (WHERE hash <> '' AND downloaded IS NULL AND download_error IS NULL) AS to_download,
			count(*) FILTER (WHERE hash <> '' AND downloaded IS NOT NULL AND file_schema_valid IS NULL) AS to_validate,
			count(*) FILTER (WHERE file_schema_valid IS NOT NULL AND clean_end IS NULL) AS to_clean,
			count(*) FILTER (WHERE clean_end IS NOT NULL AND flatten_end IS NULL) AS to_flatten,
			count(*) FILTER (WHERE flatten_end IS NOT NULL AND lakify_end IS NULL) AS to_lakify,
			count(*) FILTER (WHERE lakify_end IS NOT NULL AND (solrize_end IS NULL OR solrize_reindex)) AS to_solrize
		FROM document
	`)
	if err := row.Scan(&q.ToDownload, &q.ToValidate, &q.ToClean, &q.ToFlatten, &q.ToLakify, &q.ToSolrize); err != nil {
		return QueueDepths{}, err
	}

	pubRow := db.pool.QueryRow(ctx, `SELECT count(*), count(*) FILTER (WHERE black_flag IS NOT NULL) FROM publisher`)
	if err := pubRow.Scan(&q.Publishers, &q.BlackFlagged); err != nil {
		return QueueDepths{}, err
	}
	return q, nil
}
