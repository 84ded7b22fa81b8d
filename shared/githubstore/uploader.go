// Package githubstore publishes image assets to a GitHub repository and
// hands back raw-content URLs that remote pages can embed.
package githubstore

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/go-github/github"
	"golang.org/x/oauth2"
)

const DefaultRawBase = "https://raw.githubusercontent.com"

type Config struct {
	Token   string
	Repo    string // owner/name
	Branch  string
	RawBase string
	Timeout time.Duration
}

type Uploader struct {
	cfg    Config
	owner  string
	name   string
	client *github.Client
}

func New(cfg Config) (*Uploader, error) {
	var missing []string
	if cfg.Token == "" {
		missing = append(missing, "GITHUB_TOKEN")
	}
	if cfg.Repo == "" {
		missing = append(missing, "GITHUB_REPO")
	}
	if cfg.Branch == "" {
		missing = append(missing, "GITHUB_BRANCH")
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("缺少 GitHub 配置：%s", strings.Join(missing, ", "))
	}

	owner, name, ok := strings.Cut(cfg.Repo, "/")
	if !ok || owner == "" || name == "" {
		return nil, fmt.Errorf("invalid github repo %q, want owner/name", cfg.Repo)
	}

	if cfg.RawBase == "" {
		cfg.RawBase = DefaultRawBase
	}
	cfg.RawBase = strings.TrimRight(cfg.RawBase, "/")

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	httpClient := oauth2.NewClient(context.Background(), ts)
	if cfg.Timeout > 0 {
		httpClient.Timeout = cfg.Timeout
	}

	return &Uploader{
		cfg:    cfg,
		owner:  owner,
		name:   name,
		client: github.NewClient(httpClient),
	}, nil
}

// Upload pushes the file at localPath to repoPath on the configured
// branch and returns its public raw URL. An existing file is updated in
// place, so re-exports of a session overwrite their previous assets.
func (u *Uploader) Upload(ctx context.Context, localPath, repoPath, commitMessage string) (string, error) {
	content, err := os.ReadFile(localPath)
	if err != nil {
		return "", fmt.Errorf("failed to read upload file: %w", err)
	}

	existing, _, resp, err := u.client.Repositories.GetContents(ctx, u.owner, u.name, repoPath,
		&github.RepositoryContentGetOptions{Ref: u.cfg.Branch})
	if err != nil {
		if resp == nil || resp.StatusCode != http.StatusNotFound {
			return "", fmt.Errorf("failed to stat %s: %w", repoPath, err)
		}
		_, _, err := u.client.Repositories.CreateFile(ctx, u.owner, u.name, repoPath,
			&github.RepositoryContentFileOptions{
				Message: github.String(commitMessage),
				Content: content,
				Branch:  github.String(u.cfg.Branch),
			})
		if err != nil {
			return "", fmt.Errorf("failed to create %s: %w", repoPath, err)
		}
		return u.RawURL(repoPath), nil
	}
	if existing == nil {
		return "", fmt.Errorf("%s exists but is not a file", repoPath)
	}

	_, _, err = u.client.Repositories.UpdateFile(ctx, u.owner, u.name, repoPath,
		&github.RepositoryContentFileOptions{
			Message: github.String(commitMessage),
			Content: content,
			SHA:     existing.SHA,
			Branch:  github.String(u.cfg.Branch),
		})
	if err != nil {
		return "", fmt.Errorf("failed to update %s: %w", repoPath, err)
	}
	return u.RawURL(repoPath), nil
}

// RawURL returns the public raw-content URL for repoPath on the branch.
func (u *Uploader) RawURL(repoPath string) string {
	clean := strings.TrimPrefix(strings.TrimSpace(repoPath), "/")
	segments := strings.Split(clean, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return fmt.Sprintf("%s/%s/refs/heads/%s/%s",
		u.cfg.RawBase, u.cfg.Repo, u.cfg.Branch, strings.Join(segments, "/"))
}
