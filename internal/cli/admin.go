package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/aretw0/mcpecho/internal/presentation/tui"
	httpadapter "github.com/aretw0/mcpecho/pkg/adapters/http"
	"github.com/aretw0/mcpecho/pkg/domain"
)

// AdminClient talks to a running server's admin API.
type AdminClient struct {
	baseURL string
	http    *http.Client
}

// NewAdminClient creates a client for the server at baseURL.
func NewAdminClient(baseURL string, client *http.Client) *AdminClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &AdminClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    client,
	}
}

func (c *AdminClient) do(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.ErrSessionNotFound
	case resp.StatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", domain.ErrInvalidPattern, readError(resp.Body))
	case resp.StatusCode >= 300:
		return fmt.Errorf("server returned %s: %s", resp.Status, readError(resp.Body))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func readError(r io.Reader) string {
	var body struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(r).Decode(&body); err != nil || body.Error == "" {
		return "no details"
	}
	return body.Error
}

// List returns all sessions and registry statistics.
func (c *AdminClient) List(ctx context.Context) (*httpadapter.SessionList, error) {
	var out httpadapter.SessionList
	if err := c.do(ctx, http.MethodGet, "/admin/sessions", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Get returns one session with state keys filtered by pattern.
func (c *AdminClient) Get(ctx context.Context, id, pattern string) (*httpadapter.SessionDetail, error) {
	path := "/admin/sessions/" + url.PathEscape(id)
	if pattern != "" {
		path += "?pattern=" + url.QueryEscape(pattern)
	}

	var out httpadapter.SessionDetail
	if err := c.do(ctx, http.MethodGet, path, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Remove tears down a session.
func (c *AdminClient) Remove(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/admin/sessions/"+url.PathEscape(id), nil)
}

// RenderSessionList formats the listing as a markdown table.
func RenderSessionList(list *httpadapter.SessionList) string {
	if len(list.Sessions) == 0 {
		return "No active sessions found.\n"
	}

	rows := make([][]string, 0, len(list.Sessions))
	for _, s := range list.Sessions {
		client := s.Client
		if client == "" {
			client = "-"
		}
		rows = append(rows, []string{
			s.ID,
			client,
			strconv.FormatBool(s.Initialized),
			strconv.Itoa(s.RequestCount),
			strconv.Itoa(s.StateKeys),
			formatSeconds(s.AgeSeconds),
			formatSeconds(s.IdleSeconds),
		})
	}

	var b strings.Builder
	b.WriteString("# Sessions\n\n")
	b.WriteString(tui.Table(
		[]string{"ID", "Client", "Initialized", "Requests", "Keys", "Age", "Idle"},
		rows,
	))
	fmt.Fprintf(&b, "\n%d sessions, %d requests, oldest %s, newest %s\n",
		list.Stats.Count,
		list.Stats.TotalRequests,
		formatSeconds(list.Stats.OldestAgeSeconds),
		formatSeconds(list.Stats.NewestAgeSeconds),
	)
	return b.String()
}

// RenderSessionDetail formats one session as markdown.
func RenderSessionDetail(d *httpadapter.SessionDetail) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Session %s\n\n", d.ID)

	client := d.Client
	if client == "" {
		client = "-"
	}
	b.WriteString(tui.Table([]string{"Field", "Value"}, [][]string{
		{"Created", d.CreatedAt.Format(time.RFC3339)},
		{"Last activity", d.LastActivity.Format(time.RFC3339)},
		{"Requests", strconv.Itoa(d.RequestCount)},
		{"Initialized", strconv.FormatBool(d.Initialized)},
		{"Protocol", d.ProtocolVersion},
		{"Client", client},
	}))

	fmt.Fprintf(&b, "\n## State (%s)\n\n", d.Pattern)
	if len(d.State) == 0 {
		b.WriteString("No matching keys.\n")
		return b.String()
	}

	keys := make([]string, 0, len(d.State))
	for k := range d.State {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	rows := make([][]string, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(d.State[k])
		if err != nil {
			v = []byte(fmt.Sprint(d.State[k]))
		}
		rows = append(rows, []string{k, "`" + string(v) + "`"})
	}
	b.WriteString(tui.Table([]string{"Key", "Value"}, rows))
	return b.String()
}

func formatSeconds(s float64) string {
	return (time.Duration(s * float64(time.Second))).Round(time.Second).String()
}
