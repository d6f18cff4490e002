package polar

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"

	"polar-fitness-sync/internal/metrics"
)

// DailyData is one category's payload for one date.
// Object is set for single-document resources, Items for list resources.
type DailyData struct {
	Object map[string]any
	Items  []map[string]any
}

// FetchDaily fetches category for date (YYYY-MM-DD).
// A 404, a 204 or an empty list all match ErrNotFound.
func (c *Client) FetchDaily(ctx context.Context, token string, category Category, date string) (*DailyData, error) {
	if category == CategoryExercises {
		return c.fetchExercises(ctx, token, date)
	}

	path, ok := dailyPaths[category]
	if !ok {
		return nil, fmt.Errorf("category %q is not fetched by date", category)
	}

	resp, err := c.doJSON(ctx, metrics.OpFetchDaily, http.MethodGet, path+date, bearer(token), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s for %s: %w", category, date, err)
	}
	if resp.status == http.StatusNoContent || len(bytes.TrimSpace(resp.body)) == 0 {
		return nil, fmt.Errorf("no %s for %s: %w", category, date, ErrNotFound)
	}

	data, err := parseDaily(resp.body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", category, err)
	}
	if data.Object == nil && len(data.Items) == 0 {
		return nil, fmt.Errorf("no %s for %s: %w", category, date, ErrNotFound)
	}
	return data, nil
}

// fetchExercises lists recent exercises and keeps those starting on date
func (c *Client) fetchExercises(ctx context.Context, token, date string) (*DailyData, error) {
	resp, err := c.doJSON(ctx, metrics.OpListExercises, http.MethodGet, "/exercises", bearer(token), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list exercises: %w", err)
	}

	var exercises []map[string]any
	if resp.status != http.StatusNoContent && len(bytes.TrimSpace(resp.body)) > 0 {
		exercises, err = decode[[]map[string]any](resp)
		if err != nil {
			return nil, err
		}
	}

	var items []map[string]any
	for _, e := range exercises {
		start, _ := e["start_time"].(string)
		if strings.HasPrefix(start, date) {
			items = append(items, e)
		}
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("no exercises for %s: %w", date, ErrNotFound)
	}
	return &DailyData{Items: items}, nil
}

// GetExercise fetches one exercise by id. Webhook EXERCISE events carry the
// id, and the exercise's start_time gives the date it belongs to.
func (c *Client) GetExercise(ctx context.Context, token, id string) (map[string]any, error) {
	resp, err := c.doJSON(ctx, metrics.OpGetExercise, http.MethodGet, "/exercises/"+url.PathEscape(id), bearer(token), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get exercise %s: %w", id, err)
	}
	return decode[map[string]any](resp)
}

func parseDaily(body []byte) (*DailyData, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []map[string]any
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, err
		}
		return &DailyData{Items: items}, nil
	}

	var obj map[string]any
	if err := json.Unmarshal(trimmed, &obj); err != nil {
		return nil, err
	}
	return &DailyData{Object: obj}, nil
}
