// internal/bitbucket/decode.go
package bitbucket

import (
	"time"

	custom_errors "scm-graph-fetcher/internal/errors"
	"scm-graph-fetcher/internal/model"
)

type envelope[T any] struct {
	Values []T    `json:"values"`
	Next   string `json:"next"`
}

type link struct {
	Href string `json:"href"`
}

type links struct {
	HTML link `json:"html"`
}

type repositoryJSON struct {
	Name      string `json:"name"`
	Workspace struct {
		Slug string `json:"slug"`
	} `json:"workspace"`
	MainBranch *struct {
		Name string `json:"name"`
	} `json:"mainbranch"`
	Links links `json:"links"`
}

type refJSON struct {
	Name  string `json:"name"`
	Links links  `json:"links"`
}

type commitJSON struct {
	Hash    string `json:"hash"`
	Message string `json:"message"`
	Date    string `json:"date"`
	Summary struct {
		Raw string `json:"raw"`
	} `json:"summary"`
	Author struct {
		Raw string `json:"raw"`
	} `json:"author"`
	Repository struct {
		Links links `json:"links"`
	} `json:"repository"`
	Links links `json:"links"`
}

func missing(url, field string) error {
	return &custom_errors.DecodeError{URL: url, Field: field, Reason: "missing"}
}

func decodeRepository(url string, r repositoryJSON, seenAt time.Time) (model.Repository, error) {
	switch {
	case r.Name == "":
		return model.Repository{}, missing(url, "name")
	case r.Workspace.Slug == "":
		return model.Repository{}, missing(url, "workspace.slug")
	case r.Links.HTML.Href == "":
		return model.Repository{}, missing(url, "links.html.href")
	}

	repo := model.Repository{
		Name:      model.NormalizeRepoName(r.Name),
		Workspace: r.Workspace.Slug,
		RepoURL:   r.Links.HTML.Href,
		SeenAt:    seenAt,
	}
	if r.MainBranch != nil && r.MainBranch.Name != "" {
		repo.MainBranch = r.MainBranch.Name
		repo.MainBranchURL = repo.RepoURL + "/branch/" + r.MainBranch.Name
	}
	return repo, nil
}

func decodeBranch(url string, r refJSON, repo model.Repository, seenAt time.Time) (model.BranchRecord, error) {
	if r.Name == "" {
		return model.BranchRecord{}, missing(url, "name")
	}
	if r.Links.HTML.Href == "" {
		return model.BranchRecord{}, missing(url, "links.html.href")
	}
	return model.BranchRecord{
		Branch: model.Branch{
			Name:   r.Name,
			Repo:   repo.Name,
			URL:    r.Links.HTML.Href,
			SeenAt: seenAt,
		},
		Link: model.RepositoryBranchLink{RepoName: repo.Name, BranchName: r.Name},
	}, nil
}

func decodeCommit(url string, c commitJSON, repo model.Repository, branch model.Branch) (model.CommitRecord, error) {
	switch {
	case c.Hash == "":
		return model.CommitRecord{}, missing(url, "hash")
	case c.Links.HTML.Href == "":
		return model.CommitRecord{}, missing(url, "links.html.href")
	case c.Date == "":
		return model.CommitRecord{}, missing(url, "date")
	}
	date, err := time.Parse(time.RFC3339, c.Date)
	if err != nil {
		return model.CommitRecord{}, &custom_errors.DecodeError{URL: url, Field: "date", Reason: err.Error()}
	}

	repoURL := c.Repository.Links.HTML.Href
	if repoURL == "" {
		repoURL = repo.RepoURL
	}
	author, email := model.ParseAuthor(c.Author.Raw)

	return model.CommitRecord{
		Commit: model.Commit{
			Hash:     c.Hash,
			Message:  c.Message,
			Summary:  c.Summary.Raw,
			Date:     date,
			Author:   author,
			Email:    email,
			DiffLink: c.Links.HTML.Href,
			RepoURL:  repoURL,
		},
		Link: model.BranchCommitLink{BranchName: branch.Name, CommitHash: c.Hash},
	}, nil
}
