package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

func doJSON(method, url, apiKey string, payload interface{}, out io.Writer) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("http %d: %s", resp.StatusCode, string(data))
	}
	_, err = io.Copy(out, resp.Body)
	return err
}

func runSearch(apiURL, apiKey, sessionID, query string, topK int, out io.Writer) error {
	if query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	payload := map[string]interface{}{"query": query, "topK": topK}
	if sessionID != "" {
		payload["sessionId"] = sessionID
	}
	return doJSON(http.MethodPost, apiURL+"/api/search", apiKey, payload, out)
}

func runStore(apiURL, apiKey, sessionID, kind, content string, out io.Writer) error {
	payload := map[string]interface{}{
		"sessionId": sessionID,
		"kind":      kind,
		"content":   content,
	}
	return doJSON(http.MethodPost, apiURL+"/api/messages", apiKey, payload, out)
}

func runHistory(apiURL, apiKey, sessionID string, limit int, out io.Writer) error {
	url := fmt.Sprintf("%s/api/sessions/%s/messages", apiURL, sessionID)
	if limit > 0 {
		url = fmt.Sprintf("%s?limit=%d", url, limit)
	}
	return doJSON(http.MethodGet, url, apiKey, nil, out)
}

func runSessions(apiURL, apiKey string, days int, out io.Writer) error {
	return doJSON(http.MethodGet, fmt.Sprintf("%s/api/sessions?days=%d", apiURL, days), apiKey, nil, out)
}

func runStats(apiURL, apiKey string, days int, out io.Writer) error {
	return doJSON(http.MethodGet, fmt.Sprintf("%s/api/stats?days=%d", apiURL, days), apiKey, nil, out)
}
