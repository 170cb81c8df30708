// internal/model/models.go
package model

import (
	"slices"
	"strings"
	"time"
)

// Repository is a remote repository as mirrored locally. RepoURL is its natural key.
type Repository struct {
	Name          string    `json:"name"`
	Workspace     string    `json:"workspace"`
	MainBranch    string    `json:"main_branch"`
	MainBranchURL string    `json:"main_branch_url"`
	RepoURL       string    `json:"repo_url"`
	SeenAt        time.Time `json:"seen_at"`
}

// Branch is a ref of a repository. URL is its natural key.
type Branch struct {
	Name   string    `json:"name"`
	Repo   string    `json:"repo"`
	URL    string    `json:"url"`
	SeenAt time.Time `json:"seen_at"`
}

// Commit is a single commit. DiffLink is its natural key; Hash alone is not
// unique across forks.
type Commit struct {
	Hash     string    `json:"hash"`
	Message  string    `json:"message"`
	Summary  string    `json:"summary"`
	Date     time.Time `json:"date"`
	Author   string    `json:"author"`
	Email    string    `json:"email"`
	DiffLink string    `json:"diff_link"`
	RepoURL  string    `json:"repo_url"`
}

// RepositoryBranchLink ties a branch to its repository by name.
type RepositoryBranchLink struct {
	RepoName   string `json:"repo_name"`
	BranchName string `json:"branch_name"`
}

// BranchCommitLink ties a commit to a branch it is reachable from.
type BranchCommitLink struct {
	BranchName string `json:"branch_name"`
	CommitHash string `json:"commit_hash"`
}

// BranchRecord is what a branch source emits.
type BranchRecord struct {
	Branch Branch
	Link   RepositoryBranchLink
}

// CommitRecord is what a commit source emits.
type CommitRecord struct {
	Commit Commit
	Link   BranchCommitLink
}

// NormalizeRepoName replaces spaces with hyphens.
func NormalizeRepoName(name string) string {
	return strings.ReplaceAll(name, " ", "-")
}

// ParseAuthor splits a raw "Display Name <email@domain>" string. The email is
// lower-cased. A raw string without a bracketed part yields an empty email and
// the trimmed input as the author.
func ParseAuthor(raw string) (author, email string) {
	open := strings.Index(raw, "<")
	if open < 0 {
		return strings.TrimSpace(raw), ""
	}
	closing := strings.Index(raw[open:], ">")
	if closing < 0 {
		return strings.TrimSpace(raw), ""
	}
	closing += open

	email = strings.ToLower(strings.TrimSpace(raw[open+1 : closing]))
	author = strings.TrimSpace(raw[:open] + raw[closing+1:])
	return author, email
}

// MainBranchRecord synthesizes the branch record for a repository's main
// branch. ok is false when the repository has no main branch.
func MainBranchRecord(repo Repository, seenAt time.Time) (BranchRecord, bool) {
	if repo.MainBranch == "" {
		return BranchRecord{}, false
	}
	return BranchRecord{
		Branch: Branch{
			Name:   repo.MainBranch,
			Repo:   repo.Name,
			URL:    repo.MainBranchURL,
			SeenAt: seenAt,
		},
		Link: RepositoryBranchLink{RepoName: repo.Name, BranchName: repo.MainBranch},
	}, true
}

// FirstLine returns the first line of a commit message.
func FirstLine(message string) string {
	line, _, _ := strings.Cut(message, "\n")
	return strings.TrimSpace(line)
}

// SortRepositories orders repositories case-insensitively by name.
func SortRepositories(repos []Repository) {
	slices.SortStableFunc(repos, func(a, b Repository) int {
		return strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name))
	})
}
