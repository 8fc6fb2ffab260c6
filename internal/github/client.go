// internal/github/client.go
package github

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/go-github/v62/github"
	"golang.org/x/oauth2"

	"github-star-browser/internal/model"
)

// ErrReadmeUnavailable marks the benign README outcomes: the repository has
// no README, or access to it is blocked. Callers treat this as "no content",
// not as a failure. Any other fetch error propagates unmodified so the
// durable executor's retry policy applies.
var ErrReadmeUnavailable = errors.New("readme unavailable")

// Client is a wrapper around the go-github client.
type Client struct {
	gh     *github.Client
	logger *slog.Logger
}

// NewClient creates and configures a new Client instance.
// The provided token is used to create an authenticated http.Client.
func NewClient(token string, logger *slog.Logger) *Client {
	ctx := context.Background()
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: token},
	)
	tc := oauth2.NewClient(ctx, ts)

	return &Client{
		gh:     github.NewClient(tc),
		logger: logger,
	}
}

// SetBaseURL points the client at an enterprise-style API endpoint.
// Integration tests use it to target a local stand-in server.
func (c *Client) SetBaseURL(url string) error {
	gh, err := c.gh.WithEnterpriseURLs(url, url)
	if err != nil {
		return err
	}
	c.gh = gh
	return nil
}

// ListStarredPage fetches one page of the authenticated user's starred
// repositories. The second return value reports whether a next page exists,
// derived from the response's pagination links.
func (c *Client) ListStarredPage(ctx context.Context, page, perPage int) ([]model.StarredItem, bool, error) {
	c.logger.Debug("Fetching starred page", "page", page, "per_page", perPage)

	opts := &github.ActivityListStarredOptions{
		ListOptions: github.ListOptions{
			Page:    page,
			PerPage: perPage,
		},
	}

	starred, resp, err := c.gh.Activity.ListStarred(ctx, "", opts)
	if err != nil {
		return nil, false, err
	}

	items := make([]model.StarredItem, 0, len(starred))
	for _, sr := range starred {
		item, err := toStarredItem(sr)
		if err != nil {
			return nil, false, err
		}
		items = append(items, item)
	}

	return items, resp.NextPage != 0, nil
}

// FetchReadme returns the decoded README content for owner/name.
// "Not found" and "access blocked" responses map to ErrReadmeUnavailable.
func (c *Client) FetchReadme(ctx context.Context, owner, name string) (string, error) {
	content, _, err := c.gh.Repositories.GetReadme(ctx, owner, name, nil)
	if err != nil {
		if isReadmeUnavailable(err) {
			return "", ErrReadmeUnavailable
		}
		return "", err
	}

	text, err := content.GetContent()
	if err != nil {
		return "", err
	}
	return text, nil
}

func isReadmeUnavailable(err error) bool {
	var errResp *github.ErrorResponse
	if !errors.As(err, &errResp) {
		return false
	}
	if errResp.Response != nil {
		switch errResp.Response.StatusCode {
		case http.StatusNotFound, http.StatusUnavailableForLegalReasons:
			return true
		}
	}
	return strings.Contains(errResp.Message, "Repository access blocked")
}

// toStarredItem translates a github.StarredRepository to our internal model.
// The full provider repo object is retained as the metadata blob.
func toStarredItem(sr *github.StarredRepository) (model.StarredItem, error) {
	repo := sr.GetRepository()

	metadata, err := json.Marshal(repo)
	if err != nil {
		return model.StarredItem{}, err
	}

	return model.StarredItem{
		FullName:    repo.GetFullName(),
		ExternalID:  repo.GetID(),
		Name:        repo.GetName(),
		Description: repo.Description,
		StarredAt:   sr.GetStarredAt().Time,
		Metadata:    metadata,
	}, nil
}
