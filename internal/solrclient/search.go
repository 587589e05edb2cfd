package solrclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/indexcore/solrupdater/internal/config"
)

// IndexedDoc is the minimal projection fetched while scrolling the index.
type IndexedDoc struct {
	ID           string `json:"id"`
	RecordFormat string `json:"record_format"`
}

type scrollResponse struct {
	Response struct {
		Docs []IndexedDoc `json:"docs"`
	} `json:"response"`
	NextCursorMark string `json:"nextCursorMark"`
}

// Scroll walks the entire result set for q via cursorMark paging, invoking
// fn for each page until nextCursorMark stops changing or fn returns
// false.
func Scroll(ctx context.Context, cfg config.SolrConfig, httpClient *http.Client, q string, fn func([]IndexedDoc) bool) error {
	cursor := "*"
	for {
		u := fmt.Sprintf("%s?q=%s&wt=json&fl=id,record_format&rows=1000&cursorMark=%s&sort=id+asc",
			cfg.SearchURL, url.QueryEscape(q), url.QueryEscape(cursor))

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("solr search returned status %d", resp.StatusCode)
		}

		var sr scrollResponse
		if err := json.Unmarshal(body, &sr); err != nil {
			return fmt.Errorf("decode scroll response: %w", err)
		}

		if !fn(sr.Response.Docs) {
			return nil
		}
		if sr.NextCursorMark == "" || sr.NextCursorMark == cursor {
			return nil
		}
		cursor = sr.NextCursorMark
	}
}

// GetByID fetches a single document by id (used by compare mode).
func GetByID(ctx context.Context, cfg config.SolrConfig, httpClient *http.Client, id string) (map[string]interface{}, bool, error) {
	u := fmt.Sprintf("%s?q=%s&wt=json&rows=1", cfg.SearchURL, url.QueryEscape("id:"+id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, false, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, false, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, false, fmt.Errorf("solr search returned status %d", resp.StatusCode)
	}

	var parsed struct {
		Response struct {
			Docs []map[string]interface{} `json:"docs"`
		} `json:"response"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, false, fmt.Errorf("decode search response: %w", err)
	}
	if len(parsed.Response.Docs) == 0 {
		return nil, false, nil
	}
	return parsed.Response.Docs[0], true, nil
}
