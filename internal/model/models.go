// internal/model/models.go
package model

import (
	"encoding/json"
	"time"
)

// Repo is a starred GitHub repository as stored in the database.
//
// InitialDescription and InitialReadme record the value observed the first
// time the repository was seen; once set they are never overwritten.
type Repo struct {
	ID                   int64           `json:"id"`
	FullName             string          `json:"repo"`
	ExternalID           int64           `json:"external_id"`
	Name                 string          `json:"name"`
	Metadata             json.RawMessage `json:"metadata,omitempty"`
	Description          *string         `json:"description"`
	InitialDescription   *string         `json:"initial_description"`
	Readme               *string         `json:"readme"`
	InitialReadme        *string         `json:"initial_readme"`
	StarredAt            *time.Time      `json:"starred_at"`
	DescriptionUpdatedAt *time.Time      `json:"description_updated_at"`
	ReadmeUpdatedAt      *time.Time      `json:"readme_updated_at"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// StarredItem is one entry of the provider's starred-repository listing.
type StarredItem struct {
	FullName    string          `json:"full_name"`
	ExternalID  int64           `json:"external_id"`
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	StarredAt   time.Time       `json:"starred_at"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// SyncResult is the structured outcome of one starred-list sync run.
type SyncResult struct {
	Skipped        bool   `json:"skipped"`
	Reason         string `json:"reason,omitempty"`
	Pages          int    `json:"pages"`
	TotalStarred   int    `json:"total_starred"`
	ReposProcessed int    `json:"repos_processed"`
	ReadmesUpdated int    `json:"readmes_updated"`
}

// PageResult is the outcome of upserting one page of starred items.
type PageResult struct {
	Processed      int `json:"processed"`
	ReadmesUpdated int `json:"readmes_updated"`
}

// ReadmeResult is the outcome of a single README refresh.
type ReadmeResult struct {
	Skipped   bool  `json:"skipped"`
	UpdatedID int64 `json:"updated_id,omitempty"`
}
