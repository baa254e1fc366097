package convai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/adiwarsita/kirana/pkg/errorsx"
)

// signedURLRequest is the body sent to the signed-URL issuing endpoint.
type signedURLRequest struct {
	AgentID string `json:"agent_id"`
}

type signedURLResponse struct {
	URL      string `json:"url"`
	Fallback bool   `json:"fallback"`
}

// resolveSignedURL asks the issuing endpoint for a short-lived session URL.
func resolveSignedURL(ctx context.Context, httpc *http.Client, endpoint, agentID string) (string, error) {
	body, err := json.Marshal(signedURLRequest{AgentID: agentID})
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSignedURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSignedURL)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpc.Do(req)
	if err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSignedURL)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", errorsx.Wrap(fmt.Errorf("signed url endpoint returned %s", resp.Status), errorsx.ReasonSignedURL)
	}
	var out signedURLResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", errorsx.Wrap(err, errorsx.ReasonSignedURL)
	}
	if out.URL == "" {
		return "", errorsx.Wrap(fmt.Errorf("signed url endpoint returned empty url"), errorsx.ReasonSignedURL)
	}
	return out.URL, nil
}

// directURL builds the credential-bearing fallback URL. The key travels as a
// query parameter, which leaks it to anything that logs URLs; callers warn
// before using it.
func directURL(apiBase, agentID, apiKey string) string {
	q := url.Values{}
	q.Set("agent_id", agentID)
	if apiKey != "" {
		q.Set("xi-api-key", apiKey)
	}
	return apiBase + "/v1/convai/conversation?" + q.Encode()
}
