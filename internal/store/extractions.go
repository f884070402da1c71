package store

import (
	"context"
	"fmt"
	"time"

	"github.com/MikeSquared-Agency/threadqa/internal/extraction"
	"github.com/MikeSquared-Agency/threadqa/internal/forest"
	"github.com/MikeSquared-Agency/threadqa/internal/matcher"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// SaveExtraction writes a completed result across the extractions,
// qa_questions and qa_answers tables in one transaction.
func (s *Store) SaveExtraction(ctx context.Context, jobID uuid.UUID, req extraction.Request, res *extraction.Result) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	accounts := req.Accounts
	if accounts == nil {
		accounts = []string{}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO extractions (job_id, submission_id, submission_title, subreddit, permalink,
			accounts, include_deleted, total_comments, truncated, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		jobID, res.SubmissionID, res.SubmissionTitle, res.Subreddit, res.Permalink,
		accounts, req.IncludeDeleted, res.TotalComments, res.Truncated, res.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert extraction: %w", err)
	}

	var answers [][]any
	for i, p := range res.Pairs {
		questionID := uuid.New()
		q := p.Question
		_, err = tx.Exec(ctx, `
			INSERT INTO qa_questions (id, job_id, position, comment_id, author, body, permalink, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			questionID, jobID, i, q.ID, q.Author, q.Body, q.Permalink, nullTime(q.CreatedAt),
		)
		if err != nil {
			return fmt.Errorf("insert question %s: %w", q.ID, err)
		}
		for j, a := range p.Answers {
			answers = append(answers, []any{
				uuid.New(), questionID, j, a.ID, a.Author, a.Body, a.Permalink, nullTime(a.CreatedAt),
			})
		}
	}

	if len(answers) > 0 {
		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"qa_answers"},
			[]string{"id", "question_id", "position", "comment_id", "author", "body", "permalink", "created_at"},
			pgx.CopyFromRows(answers),
		)
		if err != nil {
			return fmt.Errorf("copy answers: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// ExtractionRow summarises one stored extraction.
type ExtractionRow struct {
	JobID         uuid.UUID
	SubmissionID  string
	Title         string
	Accounts      []string
	TotalComments int
	Truncated     bool
	QuestionCount int
	CompletedAt   time.Time
}

// ListExtractions returns stored runs for a submission, newest first.
func (s *Store) ListExtractions(ctx context.Context, submissionID string, limit int) ([]ExtractionRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `
		SELECT e.job_id, e.submission_id, e.submission_title, e.accounts, e.total_comments,
			e.truncated, e.completed_at,
			(SELECT count(*) FROM qa_questions q WHERE q.job_id = e.job_id)
		FROM extractions e
		WHERE e.submission_id = $1
		ORDER BY e.completed_at DESC
		LIMIT $2`,
		submissionID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query extractions: %w", err)
	}
	defer rows.Close()

	var out []ExtractionRow
	for rows.Next() {
		var r ExtractionRow
		if err := rows.Scan(&r.JobID, &r.SubmissionID, &r.Title, &r.Accounts, &r.TotalComments,
			&r.Truncated, &r.CompletedAt, &r.QuestionCount); err != nil {
			return nil, fmt.Errorf("scan extraction: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// GetExtraction rebuilds a stored result with its pairs in their original
// order.
func (s *Store) GetExtraction(ctx context.Context, jobID uuid.UUID) (*extraction.Result, error) {
	res := &extraction.Result{}
	err := s.pool.QueryRow(ctx, `
		SELECT submission_id, submission_title, subreddit, permalink, total_comments, truncated, completed_at
		FROM extractions WHERE job_id = $1`, jobID,
	).Scan(&res.SubmissionID, &res.SubmissionTitle, &res.Subreddit, &res.Permalink,
		&res.TotalComments, &res.Truncated, &res.CompletedAt)
	if err != nil {
		return nil, fmt.Errorf("get extraction %s: %w", jobID, notFound(err))
	}

	rows, err := s.pool.Query(ctx, `
		SELECT q.id, q.comment_id, q.author, q.body, q.permalink, q.created_at,
			a.comment_id, a.author, a.body, a.permalink, a.created_at
		FROM qa_questions q
		LEFT JOIN qa_answers a ON a.question_id = q.id
		WHERE q.job_id = $1
		ORDER BY q.position, a.position`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query pairs: %w", err)
	}
	defer rows.Close()

	var current uuid.UUID
	for rows.Next() {
		var (
			qid                     uuid.UUID
			q                       forest.Comment
			qAt                     *time.Time
			aID, aAuthor, aBody, aP *string
			aAt                     *time.Time
		)
		if err := rows.Scan(&qid, &q.ID, &q.Author, &q.Body, &q.Permalink, &qAt,
			&aID, &aAuthor, &aBody, &aP, &aAt); err != nil {
			return nil, fmt.Errorf("scan pair: %w", err)
		}
		if qid != current || len(res.Pairs) == 0 {
			q.CreatedAt = fromNullTime(qAt)
			res.Pairs = append(res.Pairs, matcher.Pair{Question: q})
			current = qid
		}
		if aID == nil {
			continue
		}
		last := &res.Pairs[len(res.Pairs)-1]
		last.Answers = append(last.Answers, forest.Comment{
			ID:        *aID,
			Author:    *aAuthor,
			Body:      *aBody,
			Permalink: *aP,
			CreatedAt: fromNullTime(aAt),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read pairs: %w", err)
	}
	return res, nil
}
