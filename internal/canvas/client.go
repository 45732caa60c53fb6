package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	defaultHTTPTimeout = 30 * time.Second
	perPage            = 100
	maxPages           = 200
)

var (
	errMissingDomain = errors.New("canvas domain required")
	errMissingToken  = errors.New("canvas access token required")
	// ErrInvalidClientConfig wraps configuration failures when constructing a Client.
	ErrInvalidClientConfig = errors.New("canvas: invalid client config")
	// ErrTooManyPages guards against a remote that never returns an empty page.
	ErrTooManyPages = errors.New("canvas: pagination exceeded page limit")
)

// APIError reports a non-2xx response from the Canvas API.
type APIError struct {
	StatusCode int
	Endpoint   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("canvas: api error %d on %s", e.StatusCode, e.Endpoint)
}

// ClientConfig bundles configuration required to instantiate a Client.
type ClientConfig struct {
	// Domain is the institution host, e.g. "school.instructure.com".
	// A scheme prefix or trailing slash is tolerated and stripped.
	Domain string
	// Token is the user-supplied Canvas access token.
	Token string
	// BaseURL overrides the https://<domain>/api/v1 derivation; used in tests.
	BaseURL    string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client fetches courses, assignments and assignment groups from the Canvas
// REST API, paginating internally and returning fully materialized slices.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a Client with validated configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingToken)
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		domain := normalizeDomain(cfg.Domain)
		if domain == "" {
			return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingDomain)
		}
		baseURL = "https://" + domain + "/api/v1"
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		baseURL:    baseURL,
		token:      token,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// ListCourses returns the user's active-enrollment courses. Stale duplicate
// enrollments under the same course name are collapsed to the highest id.
func (c *Client) ListCourses(ctx context.Context) ([]Course, error) {
	items, err := c.fetchAllPages(ctx, "/courses?enrollment_state=active")
	if err != nil {
		return nil, err
	}

	latestByName := make(map[string]Course, len(items))
	order := make([]string, 0, len(items))
	for _, item := range items {
		var raw wireCourse
		if err := json.Unmarshal(item, &raw); err != nil {
			c.logger.Debug("dropping undecodable course payload", zap.Error(err))
			continue
		}
		course, ok := raw.toCourse()
		if !ok {
			c.logger.Debug("dropping malformed course payload", zap.Int64("course_id", raw.ID))
			continue
		}
		existing, seen := latestByName[course.Name]
		if !seen {
			order = append(order, course.Name)
			latestByName[course.Name] = course
			continue
		}
		if course.ID > existing.ID {
			latestByName[course.Name] = course
		}
	}

	courses := make([]Course, 0, len(order))
	for _, name := range order {
		courses = append(courses, latestByName[name])
	}
	return courses, nil
}

// ListAssignments returns the course's assignments with a future or missing
// due date, including the raw HTML description.
func (c *Client) ListAssignments(ctx context.Context, courseID int64) ([]Assignment, error) {
	endpoint := fmt.Sprintf(
		"/courses/%d/assignments?bucket=future&include[]=description&include[]=assignment_group",
		courseID,
	)
	items, err := c.fetchAllPages(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	assignments := make([]Assignment, 0, len(items))
	for _, item := range items {
		var raw wireAssignment
		if err := json.Unmarshal(item, &raw); err != nil {
			c.logger.Debug("dropping undecodable assignment payload",
				zap.Int64("course_id", courseID), zap.Error(err))
			continue
		}
		assignment, ok := raw.toAssignment(courseID)
		if !ok {
			c.logger.Debug("dropping malformed assignment payload",
				zap.Int64("assignment_id", raw.ID),
				zap.Int64("course_id", courseID))
			continue
		}
		assignments = append(assignments, assignment)
	}
	return assignments, nil
}

// ListAssignmentGroups returns the course's assignment groups. Groups with
// zero member assignments are filtered out.
func (c *Client) ListAssignmentGroups(ctx context.Context, courseID int64) ([]AssignmentGroup, error) {
	endpoint := fmt.Sprintf("/courses/%d/assignment_groups?include[]=assignments", courseID)
	items, err := c.fetchAllPages(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	groups := make([]AssignmentGroup, 0, len(items))
	for _, item := range items {
		var raw wireAssignmentGroup
		if err := json.Unmarshal(item, &raw); err != nil {
			c.logger.Debug("dropping undecodable group payload",
				zap.Int64("course_id", courseID), zap.Error(err))
			continue
		}
		group, ok := raw.toGroup()
		if !ok {
			continue
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// fetchAllPages walks ?page=N until the remote returns an empty page and
// returns the concatenated raw items.
func (c *Client) fetchAllPages(ctx context.Context, endpoint string) ([]json.RawMessage, error) {
	separator := "?"
	if strings.Contains(endpoint, "?") {
		separator = "&"
	}

	var all []json.RawMessage
	for page := 1; ; page++ {
		if page > maxPages {
			return nil, ErrTooManyPages
		}

		url := fmt.Sprintf("%s%s%spage=%d&per_page=%d", c.baseURL, endpoint, separator, page, perPage)
		items, err := c.fetchPage(ctx, url, endpoint)
		if err != nil {
			return nil, err
		}
		if len(items) == 0 {
			return all, nil
		}
		all = append(all, items...)
	}
}

func (c *Client) fetchPage(ctx context.Context, url, endpoint string) ([]json.RawMessage, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, err
	}
	request.Header.Set("Authorization", "Bearer "+c.token)
	request.Header.Set("Accept", "application/json")

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, err
	}
	defer response.Body.Close()

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		io.Copy(io.Discard, response.Body) //nolint:errcheck
		return nil, &APIError{StatusCode: response.StatusCode, Endpoint: endpoint}
	}

	var items []json.RawMessage
	if err := json.NewDecoder(response.Body).Decode(&items); err != nil {
		return nil, fmt.Errorf("canvas: decoding %s: %w", endpoint, err)
	}
	return items, nil
}

func normalizeDomain(raw string) string {
	domain := strings.TrimSpace(raw)
	domain = strings.TrimPrefix(domain, "https://")
	domain = strings.TrimPrefix(domain, "http://")
	return strings.TrimRight(domain, "/")
}
