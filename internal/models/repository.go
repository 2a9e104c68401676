package models

import "time"

// Repository is a source repository whose documentation is managed.
type Repository struct {
	ID             string
	Owner          string
	Name           string
	InstallationID string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Document is one stored documentation file for a repository.
type Document struct {
	ID           string
	RepositoryID string
	Path         string
	Title        string
	Content      string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
