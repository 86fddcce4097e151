package analytics

import (
	"database/sql"
	"time"

	"github.com/golang/glog"
	_ "github.com/lib/pq"
)

const (
	viewsTableName          = "video_views"
	uploadsTableName        = "video_uploads"
	processingTimeTableName = "video_processing_times"
)

// PostgresSink writes usage rows to Postgres. Each public method returns
// immediately; the insert happens in a goroutine so a slow or dead database
// never blocks request handling.
type PostgresSink struct {
	db *sql.DB
}

func NewPostgresSink(connectionString string) (*PostgresSink, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, err
	}
	return &PostgresSink{db: db}, nil
}

func (s *PostgresSink) RecordView(videoID, userID, companyID string) {
	go func() {
		defer recoverInsertPanic("view", videoID)
		s.insertView(videoID, userID, companyID)
	}()
}

func (s *PostgresSink) RecordUpload(videoID, userID, companyID string, sizeBytes int64) {
	go func() {
		defer recoverInsertPanic("upload", videoID)
		s.insertUpload(videoID, userID, companyID, sizeBytes)
	}()
}

func (s *PostgresSink) RecordProcessingTime(videoID, userID, companyID string, seconds float64, success bool) {
	go func() {
		defer recoverInsertPanic("processing_time", videoID)
		s.insertProcessingTime(videoID, userID, companyID, seconds, success)
	}()
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}

func (s *PostgresSink) insertView(videoID, userID, companyID string) {
	insertDynStmt := `insert into "` + viewsTableName + `"(
	"video_id",
	"user_id",
	"company_id",
	"timestamp_ms"
	) values($1, $2, $3, $4)`
	_, err := s.db.Exec(
		insertDynStmt,
		videoID,
		nullable(userID),
		nullable(companyID),
		time.Now().UnixMilli(),
	)
	if err != nil {
		glog.Errorf("error writing view to analytics database err=%s video_id=%s", err, videoID)
	}
}

func (s *PostgresSink) insertUpload(videoID, userID, companyID string, sizeBytes int64) {
	insertDynStmt := `insert into "` + uploadsTableName + `"(
	"video_id",
	"user_id",
	"company_id",
	"size_bytes",
	"timestamp_ms"
	) values($1, $2, $3, $4, $5)`
	_, err := s.db.Exec(
		insertDynStmt,
		videoID,
		nullable(userID),
		nullable(companyID),
		sizeBytes,
		time.Now().UnixMilli(),
	)
	if err != nil {
		glog.Errorf("error writing upload to analytics database err=%s video_id=%s", err, videoID)
	}
}

func (s *PostgresSink) insertProcessingTime(videoID, userID, companyID string, seconds float64, success bool) {
	insertDynStmt := `insert into "` + processingTimeTableName + `"(
	"video_id",
	"user_id",
	"company_id",
	"duration_s",
	"success",
	"timestamp_ms"
	) values($1, $2, $3, $4, $5, $6)`
	_, err := s.db.Exec(
		insertDynStmt,
		videoID,
		nullable(userID),
		nullable(companyID),
		seconds,
		success,
		time.Now().UnixMilli(),
	)
	if err != nil {
		glog.Errorf("error writing processing time to analytics database err=%s video_id=%s", err, videoID)
	}
}

func recoverInsertPanic(kind, videoID string) {
	if rec := recover(); rec != nil {
		glog.Errorf("panic writing %s to analytics database err=%s video_id=%s", kind, rec, videoID)
	}
}

// nullable maps the empty string onto SQL NULL so anonymous views don't
// materialise as empty-string identities.
func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
