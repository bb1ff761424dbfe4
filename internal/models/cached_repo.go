package models

import "time"

// CachedRepo is the sync bookkeeping row of one repository.
type CachedRepo struct {
	Path               string     `gorm:"column:path;primaryKey"`
	RepoName           string     `gorm:"column:repo_name;not null"`
	RepoURL            string     `gorm:"column:repo_url"`
	LastPullAttempt    *time.Time `gorm:"column:last_pull_attempt"`
	LastSuccessfulPull *time.Time `gorm:"column:last_successful_pull"`
}

// TableName maps CachedRepo onto the repo_cache table created by the
// storage migrations.
func (CachedRepo) TableName() string {
	return "repo_cache"
}
