// Package tracker wraps the GitHub issues API for the relay's proposal and
// comment operations.
package tracker

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v58/github"
	"golang.org/x/oauth2"
)

type Client struct {
	gh    *github.Client
	owner string
	repo  string
}

// New builds a client for "owner/repo" authenticated with token. baseURL
// overrides the API endpoint for tests; empty means api.github.com.
func New(token, ownerRepo, baseURL string, timeout time.Duration) (*Client, error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(ownerRepo), "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("invalid repo %q: want owner/repo", ownerRepo)
	}

	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	httpClient := oauth2.NewClient(context.Background(), src)
	httpClient.Timeout = timeout

	gh := github.NewClient(httpClient)
	if baseURL != "" {
		parsed, err := url.Parse(strings.TrimRight(baseURL, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("parse tracker base url: %w", err)
		}
		gh.BaseURL = parsed
	}

	return &Client{gh: gh, owner: owner, repo: repo}, nil
}

func (c *Client) CreateIssue(ctx context.Context, title, body string, labels []string) (int, string, error) {
	issue, _, err := c.gh.Issues.Create(ctx, c.owner, c.repo, &github.IssueRequest{
		Title:  github.String(title),
		Body:   github.String(body),
		Labels: &labels,
	})
	if err != nil {
		return 0, "", fmt.Errorf("create issue: %w", err)
	}
	return issue.GetNumber(), issue.GetHTMLURL(), nil
}

func (c *Client) GetIssueTitle(ctx context.Context, number int) (string, error) {
	issue, _, err := c.gh.Issues.Get(ctx, c.owner, c.repo, number)
	if err != nil {
		return "", fmt.Errorf("get issue %d: %w", number, err)
	}
	return issue.GetTitle(), nil
}

func (c *Client) UpdateIssue(ctx context.Context, number int, title, body string, close bool) (string, error) {
	req := &github.IssueRequest{
		Title: github.String(title),
		Body:  github.String(body),
	}
	if close {
		req.State = github.String("closed")
	}
	issue, _, err := c.gh.Issues.Edit(ctx, c.owner, c.repo, number, req)
	if err != nil {
		return "", fmt.Errorf("update issue %d: %w", number, err)
	}
	return issue.GetHTMLURL(), nil
}

func (c *Client) LockIssue(ctx context.Context, number int) error {
	_, err := c.gh.Issues.Lock(ctx, c.owner, c.repo, number, &github.LockIssueOptions{LockReason: "resolved"})
	if err != nil {
		return fmt.Errorf("lock issue %d: %w", number, err)
	}
	return nil
}

func (c *Client) CreateComment(ctx context.Context, issue int, body string) (int64, string, error) {
	comment, _, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, issue, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return 0, "", fmt.Errorf("create comment on issue %d: %w", issue, err)
	}
	return comment.GetID(), comment.GetHTMLURL(), nil
}

func (c *Client) UpdateComment(ctx context.Context, id int64, body string) (string, error) {
	comment, _, err := c.gh.Issues.EditComment(ctx, c.owner, c.repo, id, &github.IssueComment{
		Body: github.String(body),
	})
	if err != nil {
		return "", fmt.Errorf("update comment %d: %w", id, err)
	}
	return comment.GetHTMLURL(), nil
}

func (c *Client) DeleteComment(ctx context.Context, id int64) error {
	_, err := c.gh.Issues.DeleteComment(ctx, c.owner, c.repo, id)
	if err != nil {
		return fmt.Errorf("delete comment %d: %w", id, err)
	}
	return nil
}
