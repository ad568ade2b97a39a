package sources

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ObiAU/mentionfeed/internal/models"
)

const defaultGitHubGraphQLURL = "https://api.github.com/graphql"

const discussionSearchQuery = `query($q: String!, $n: Int!) {
  search(query: $q, type: DISCUSSION, first: $n) {
    nodes {
      ... on Discussion {
        id
        number
        title
        url
        bodyHTML
        createdAt
        author { login }
        repository { nameWithOwner }
      }
    }
  }
}`

// ErrMissingToken is returned when an adapter that needs credentials has none.
var ErrMissingToken = errors.New("missing api token")

// GitHubConfig configures the GitHub Discussions search adapter.
type GitHubConfig struct {
	Endpoint string
	Token    string
	Query    string
	Limit    int
}

// GitHubClient searches GitHub Discussions through the GraphQL API.
type GitHubClient struct {
	cfg       GitHubConfig
	client    *http.Client
	converter *htmlConverter
}

type discussionSearchResponse struct {
	Data struct {
		Search struct {
			Nodes []discussionNode `json:"nodes"`
		} `json:"search"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

type discussionNode struct {
	ID        string `json:"id"`
	Number    int    `json:"number"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	BodyHTML  string `json:"bodyHTML"`
	CreatedAt string `json:"createdAt"`
	Author    *struct {
		Login string `json:"login"`
	} `json:"author"`
	Repository struct {
		NameWithOwner string `json:"nameWithOwner"`
	} `json:"repository"`
}

func NewGitHubClient(cfg GitHubConfig) *GitHubClient {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultGitHubGraphQLURL
	}
	if cfg.Limit <= 0 || cfg.Limit > 100 {
		cfg.Limit = 25
	}
	return &GitHubClient{
		cfg: cfg,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
		converter: newHTMLConverter(),
	}
}

func (c *GitHubClient) Name() models.Source {
	return models.SourceGitHub
}

func (c *GitHubClient) Fetch(ctx context.Context) ([]models.Item, error) {
	if c.cfg.Token == "" {
		return nil, fmt.Errorf("github: %w", ErrMissingToken)
	}

	payload, err := json.Marshal(map[string]any{
		"query": discussionSearchQuery,
		"variables": map[string]any{
			"q": c.cfg.Query + " sort:created-desc",
			"n": c.cfg.Limit,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal github query: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)

	body, err := doRequest(c.client, req, "github")
	if err != nil {
		return nil, err
	}

	var apiResp discussionSearchResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return nil, fmt.Errorf("decode github response: %w", err)
	}

	if len(apiResp.Errors) > 0 {
		messages := make([]string, len(apiResp.Errors))
		for i, e := range apiResp.Errors {
			messages[i] = e.Message
		}
		return nil, fmt.Errorf("github graphql error: %s", strings.Join(messages, "; "))
	}

	items := make([]models.Item, 0, len(apiResp.Data.Search.Nodes))
	for _, node := range apiResp.Data.Search.Nodes {
		// Non-discussion nodes decode as empty objects.
		if node.ID == "" {
			continue
		}

		author := "ghost"
		if node.Author != nil && node.Author.Login != "" {
			author = node.Author.Login
		}

		content := c.converter.Convert(node.BodyHTML)
		if content == "" {
			content = node.Title
		}

		items = append(items, models.Item{
			ID:             "github_" + node.ID,
			Source:         models.SourceGitHub,
			Author:         author,
			Title:          node.Title,
			Content:        content,
			URL:            node.URL,
			Timestamp:      models.ParseTimestamp(node.CreatedAt),
			ConversationID: node.URL,
			Metadata: map[string]string{
				"repository": node.Repository.NameWithOwner,
				"number":     fmt.Sprintf("%d", node.Number),
			},
		})
	}

	return items, nil
}
