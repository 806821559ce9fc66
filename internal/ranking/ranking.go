package ranking

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// Client talks to the ranking service. Write operations carry the API key;
// star lookups are public.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// NewClient creates a ranking client for baseURL authenticated with apiKey
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

func (c *Client) post(ctx context.Context, path string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("ranking service returned status %d for %s", resp.StatusCode, path)
	}
	return nil
}

// PlayerStars returns the player's star rating for the given game and mode
func (c *Client) PlayerStars(ctx context.Context, playerID, game, mode string) (int, error) {
	endpoint := fmt.Sprintf("%s/api/player/%s/stars?game_name=%s&game_mode=%s",
		c.baseURL, url.PathEscape(playerID), url.QueryEscape(game), url.QueryEscape(mode))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("ranking service returned status %d for stars lookup", resp.StatusCode)
	}

	var stars int
	if err := json.NewDecoder(resp.Body).Decode(&stars); err != nil {
		return 0, fmt.Errorf("decode stars: %w", err)
	}
	return stars, nil
}

// InitGame registers a game's scoring dimensions
func (c *Client) InitGame(ctx context.Context, g Game) error {
	return c.post(ctx, "/api/game/init", g)
}

// InitMatch submits a finished match for rating
func (c *Client) InitMatch(ctx context.Context, m Match) error {
	return c.post(ctx, "/api/match/init", m)
}
