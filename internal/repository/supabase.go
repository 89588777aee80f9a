package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"fudosan-agent/internal/domain"
)

// Supabase stores turns through the project's PostgREST endpoint, authenticated
// with the service-role key.
type Supabase struct {
	baseURL    string
	key        string
	table      string
	httpClient *http.Client
}

type SupabaseOption func(*Supabase)

func WithSupabaseHTTPClient(c *http.Client) SupabaseOption {
	return func(s *Supabase) {
		s.httpClient = c
	}
}

// supabaseRow is the JSON shape of one table row. id and created_at are
// filled by the table defaults.
type supabaseRow struct {
	ID        int64  `json:"id"`
	UserID    string `json:"user_id"`
	Question  string `json:"question"`
	Response  string `json:"response"`
	CreatedAt string `json:"created_at"`
}

type supabaseInsert struct {
	UserID   string `json:"user_id"`
	Question string `json:"question"`
	Response string `json:"response"`
}

// StatusError captures non-2xx PostgREST responses.
type StatusError struct {
	StatusCode int
	URL        string
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("repository: unexpected status %d from %s: %s", e.StatusCode, e.URL, e.Body)
}

func NewSupabase(projectURL, key, table string, opts ...SupabaseOption) (*Supabase, error) {
	projectURL = strings.TrimRight(strings.TrimSpace(projectURL), "/")
	if projectURL == "" {
		return nil, errors.New("repository: supabase url must not be empty")
	}
	if _, err := url.ParseRequestURI(projectURL); err != nil {
		return nil, fmt.Errorf("repository: supabase url: %w", err)
	}
	if strings.TrimSpace(key) == "" {
		return nil, errors.New("repository: supabase key must not be empty")
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("repository: invalid table name %q", table)
	}
	s := &Supabase{
		baseURL:    projectURL,
		key:        key,
		table:      table,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Supabase) tableURL() string {
	return s.baseURL + "/rest/v1/" + s.table
}

func (s *Supabase) AppendTurn(ctx context.Context, turn domain.Turn) error {
	if strings.TrimSpace(turn.UserID) == "" {
		return errors.New("repository: AppendTurn: user id is required")
	}
	body, err := json.Marshal(supabaseInsert{UserID: turn.UserID, Question: turn.Question, Response: turn.Response})
	if err != nil {
		return fmt.Errorf("repository: AppendTurn marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tableURL(), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("repository: AppendTurn request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", "return=minimal")

	if _, err := s.do(req); err != nil {
		return fmt.Errorf("repository: AppendTurn: %w", err)
	}
	return nil
}

func (s *Supabase) RecentTurns(ctx context.Context, userID string, limit int) ([]domain.Turn, error) {
	q := url.Values{}
	q.Set("select", "id,user_id,question,response,created_at")
	q.Set("user_id", "eq."+userID)
	q.Set("order", "id.desc")
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.tableURL()+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentTurns request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	raw, err := s.do(req)
	if err != nil {
		return nil, fmt.Errorf("repository: RecentTurns: %w", err)
	}
	var rows []supabaseRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("repository: RecentTurns decode: %w", err)
	}

	turns := make([]domain.Turn, len(rows))
	for i, r := range rows {
		turns[len(rows)-1-i] = domain.Turn{
			UserID:    r.UserID,
			Question:  r.Question,
			Response:  r.Response,
			Sequence:  r.ID,
			CreatedAt: parseSupabaseTime(r.CreatedAt),
		}
	}
	return turns, nil
}

// parseSupabaseTime accepts timestamptz and timestamp column renderings.
func parseSupabaseTime(s string) time.Time {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func (s *Supabase) do(req *http.Request) ([]byte, error) {
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)

	res, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		buf, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return nil, &StatusError{StatusCode: res.StatusCode, URL: req.URL.Path, Body: string(buf)}
	}
	buf, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return buf, nil
}
