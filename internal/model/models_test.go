// internal/model/models_test.go
package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseAuthor(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantAuthor string
		wantEmail  string
	}{
		{"name and email", "Jane Doe <jane@example.com>", "Jane Doe", "jane@example.com"},
		{"no brackets", "Jane Doe", "Jane Doe", ""},
		{"email is lower-cased", "Jane Doe <Jane.Doe@Example.COM>", "Jane Doe", "jane.doe@example.com"},
		{"surrounding whitespace", "  Jane Doe   <jane@example.com>  ", "Jane Doe", "jane@example.com"},
		{"email only", "<ci@example.com>", "", "ci@example.com"},
		{"unterminated bracket", "Jane Doe <jane@example.com", "Jane Doe <jane@example.com", ""},
		{"empty", "", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			author, email := ParseAuthor(tt.raw)
			assert.Equal(t, tt.wantAuthor, author)
			assert.Equal(t, tt.wantEmail, email)
		})
	}
}

func TestNormalizeRepoName(t *testing.T) {
	assert.Equal(t, "my-cool-repo", NormalizeRepoName("my cool repo"))
	assert.Equal(t, "already-fine", NormalizeRepoName("already-fine"))
}

func TestMainBranchRecord(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("synthesizes the main branch", func(t *testing.T) {
		repo := Repository{
			Name:          "api",
			MainBranch:    "main",
			MainBranchURL: "https://bitbucket.org/acme/api/branch/main",
		}

		rec, ok := MainBranchRecord(repo, now)

		assert.True(t, ok)
		assert.Equal(t, Branch{Name: "main", Repo: "api", URL: repo.MainBranchURL, SeenAt: now}, rec.Branch)
		assert.Equal(t, RepositoryBranchLink{RepoName: "api", BranchName: "main"}, rec.Link)
	})

	t.Run("no main branch yields nothing", func(t *testing.T) {
		_, ok := MainBranchRecord(Repository{Name: "empty"}, now)
		assert.False(t, ok)
	})
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "fix: a bug", FirstLine("fix: a bug\n\nlonger body"))
	assert.Equal(t, "single", FirstLine("single"))
}

func TestSortRepositories(t *testing.T) {
	repos := []Repository{{Name: "beta"}, {Name: "Alpha"}, {Name: "alpha2"}, {Name: "Gamma"}}

	SortRepositories(repos)

	var names []string
	for _, r := range repos {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"Alpha", "alpha2", "beta", "Gamma"}, names)
}
