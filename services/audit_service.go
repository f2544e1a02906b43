// services/audit_service.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"bounty-reward-system/models"
	"bounty-reward-system/utils"

	"github.com/go-co-op/gocron/v2"
	"github.com/gosimple/slug"
	"gorm.io/gorm"
)

// AuditService exports settlement activity to object storage so the
// payout trail survives independently of the database.
type AuditService struct {
	DB *gorm.DB

	upload func(ctx context.Context, key string, body []byte) error
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{DB: db, upload: utils.UploadJSONToR2}
}

// StartArchiveScheduler runs the daily export job.
func (s *AuditService) StartArchiveScheduler() {
	sched, _ := gocron.NewScheduler()
	sched.Start()

	_, _ = sched.NewJob(
		gocron.DurationJob(24*time.Hour),
		gocron.NewTask(func() {
			if err := s.ExportDailyArchive(context.Background()); err != nil {
				log.Printf("[AUDIT] daily export failed: %v", err)
			}
		}),
	)
}

type auditDocument struct {
	RepoFullName  string              `json:"repo_full_name,omitempty"`
	GeneratedAt   time.Time           `json:"generated_at"`
	Contributions []auditContribution `json:"contributions"`
}

type auditContribution struct {
	GithubIssueID        int64     `json:"github_issue_id"`
	IssueTitle           string    `json:"issue_title"`
	ContributorID        string    `json:"contributor_id"`
	TransactionSignature string    `json:"transaction_signature"`
	RewardAmount         float64   `json:"reward_amount"`
	TokenType            string    `json:"token_type"`
	CompletedAt          time.Time `json:"completed_at"`
}

// ExportDailyArchive uploads one JSON object per repository with the
// trailing day's payouts, plus one object with the currently unresolved
// reconciliation entries.
func (s *AuditService) ExportDailyArchive(ctx context.Context) error {
	since := time.Now().UTC().Add(-24 * time.Hour)
	date := time.Now().UTC().Format("2006-01-02")

	type exportRow struct {
		models.Contribution
		GithubIssueID int64
		Title         string
		RepoFullName  string
		RewardAmount  float64
		TokenType     string
	}
	var rows []exportRow
	if err := s.DB.WithContext(ctx).Model(&models.Contribution{}).
		Select("contributions.*, issues.github_issue_id, issues.title, issues.repo_full_name, issues.reward_amount, issues.token_type").
		Joins("JOIN issues ON issues.id = contributions.issue_id").
		Where("contributions.completed_at >= ?", since).
		Scan(&rows).Error; err != nil {
		return fmt.Errorf("loading contributions for export: %w", err)
	}

	byRepo := make(map[string][]auditContribution)
	for _, r := range rows {
		byRepo[r.RepoFullName] = append(byRepo[r.RepoFullName], auditContribution{
			GithubIssueID:        r.GithubIssueID,
			IssueTitle:           r.Title,
			ContributorID:        r.ContributorID,
			TransactionSignature: r.TransactionSignature,
			RewardAmount:         r.RewardAmount,
			TokenType:            r.TokenType,
			CompletedAt:          r.CompletedAt,
		})
	}

	for repo, contributions := range byRepo {
		doc := auditDocument{
			RepoFullName:  repo,
			GeneratedAt:   time.Now().UTC(),
			Contributions: contributions,
		}
		body, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding audit document for %s: %w", repo, err)
		}
		key := fmt.Sprintf("audits/%s/%s.json", slug.Make(repo), date)
		if err := s.upload(ctx, key, body); err != nil {
			return fmt.Errorf("uploading audit document for %s: %w", repo, err)
		}
		log.Printf("[AUDIT] exported %d contribution(s) for %s to %s", len(contributions), repo, key)
	}

	var entries []models.ReconciliationEntry
	if err := s.DB.WithContext(ctx).Where("resolved = ?", false).Find(&entries).Error; err != nil {
		return fmt.Errorf("loading reconciliation entries for export: %w", err)
	}
	if len(entries) > 0 {
		body, err := json.MarshalIndent(entries, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding reconciliation export: %w", err)
		}
		key := fmt.Sprintf("audits/reconciliation/%s.json", date)
		if err := s.upload(ctx, key, body); err != nil {
			return fmt.Errorf("uploading reconciliation export: %w", err)
		}
		log.Printf("[AUDIT] exported %d unresolved reconciliation entries to %s", len(entries), key)
	}

	if len(byRepo) == 0 && len(entries) == 0 {
		log.Println("[AUDIT] nothing to export today")
	}
	return nil
}
