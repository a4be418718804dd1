package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/user/sitemap-crawler/internal/repository"
)

// ReportRepoImpl implements repository.ReportWriter. A report and its
// discovered pages are written in one transaction.
type ReportRepoImpl struct {
	db DB
}

// NewReportRepo creates a new instance of ReportRepoImpl.
func NewReportRepo(db DB) *ReportRepoImpl {
	return &ReportRepoImpl{db: db}
}

func (r *ReportRepoImpl) WriteReport(ctx context.Context, report repository.Report) (err error) {
	summaryJSON, err := json.Marshal(report.Summary)
	if err != nil {
		return err
	}
	issues := report.Issues
	if issues == nil {
		issues = map[string]int{}
	}
	issuesJSON, err := json.Marshal(issues)
	if err != nil {
		return err
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin report tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	query := `
		INSERT INTO crawl_reports (job_id, seed, stop_reason, summary, issues)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (job_id) DO UPDATE SET
			seed = EXCLUDED.seed,
			stop_reason = EXCLUDED.stop_reason,
			summary = EXCLUDED.summary,
			issues = EXCLUDED.issues;
	`
	if _, err = tx.Exec(ctx, query, report.JobID, report.Seed, report.StopReason, summaryJSON, issuesJSON); err != nil {
		return fmt.Errorf("upsert report %s: %w", report.JobID, err)
	}

	if _, err = tx.Exec(ctx, `DELETE FROM discovered_pages WHERE job_id = $1;`, report.JobID); err != nil {
		return fmt.Errorf("clear discovered pages %s: %w", report.JobID, err)
	}
	if len(report.Discovered) > 0 {
		rows := make([][]any, len(report.Discovered))
		for i, u := range report.Discovered {
			rows[i] = []any{report.JobID, u}
		}
		if _, err = tx.CopyFrom(ctx, pgx.Identifier{"discovered_pages"}, []string{"job_id", "url"}, pgx.CopyFromRows(rows)); err != nil {
			return fmt.Errorf("copy discovered pages %s: %w", report.JobID, err)
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit report %s: %w", report.JobID, err)
	}
	return nil
}
