package tacobot

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// maxExternalResponseBytes caps how much of an external API response
// body gets read.
const maxExternalResponseBytes = 1 << 20

// ExternalClients bundles the HTTP clients for the third-party APIs the
// cogs talk to. All requests go through the single injected
// http.Client so tests can swap the transport.
type ExternalClients struct {
	Giphy     *GiphyClient
	Mojang    *MojangClient
	Trivia    *TriviaClient
	Minecraft *MinecraftBridgeClient
}

func newExternalClients(config *Config, client *http.Client) *ExternalClients {
	return &ExternalClients{
		Giphy: &GiphyClient{
			apiKey:  config.Giphy.APIKey,
			baseURL: strings.TrimSuffix(config.Giphy.BaseURL, "/"),
			rating:  config.Giphy.Rating,
			client:  client,
		},
		Mojang: &MojangClient{
			baseURL: strings.TrimSuffix(config.Minecraft.MojangURL, "/"),
			client:  client,
		},
		Trivia: &TriviaClient{
			baseURL: DefaultTriviaBaseURL,
			client:  client,
		},
		Minecraft: &MinecraftBridgeClient{
			baseURL: strings.TrimSuffix(config.Minecraft.BridgeURL, "/"),
			client:  client,
		},
	}
}

// getJSON issues a GET and decodes the JSON response into out,
// enforcing the response size cap.
func getJSON(
	ctx context.Context,
	client *http.Client,
	u string,
	out any,
) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, u)
	}

	body := io.LimitReader(resp.Body, maxExternalResponseBytes)
	return json.NewDecoder(body).Decode(out)
}

// GiphyClient queries the Giphy search API.
type GiphyClient struct {
	apiKey  string
	baseURL string
	rating  string
	client  *http.Client
}

type giphySearchResponse struct {
	Data []struct {
		URL    string `json:"url"`
		Images struct {
			Original struct {
				URL string `json:"url"`
			} `json:"original"`
		} `json:"images"`
	} `json:"data"`
}

// Search returns the URL of a gif matching the query, or an empty
// string with no error when nothing matched.
func (g *GiphyClient) Search(ctx context.Context, query string) (string, error) {
	if g.apiKey == "" {
		return "", fmt.Errorf("no giphy api key configured")
	}
	params := url.Values{}
	params.Set("api_key", g.apiKey)
	params.Set("q", query)
	params.Set("limit", "1")
	if g.rating != "" {
		params.Set("rating", g.rating)
	}

	var result giphySearchResponse
	err := getJSON(
		ctx,
		g.client,
		fmt.Sprintf("%s/gifs/search?%s", g.baseURL, params.Encode()),
		&result,
	)
	if err != nil {
		return "", err
	}
	if len(result.Data) == 0 {
		return "", nil
	}
	if u := result.Data[0].Images.Original.URL; u != "" {
		return u, nil
	}
	return result.Data[0].URL, nil
}

// MojangClient resolves Minecraft usernames to profile UUIDs.
type MojangClient struct {
	baseURL string
	client  *http.Client
}

type mojangProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ResolveUUID returns the profile UUID for the given username, and the
// canonical casing of the name. Returns ErrNotFound for unknown names.
func (m *MojangClient) ResolveUUID(ctx context.Context, username string) (
	uuid string,
	canonicalName string,
	err error,
) {
	u := fmt.Sprintf(
		"%s/users/profiles/minecraft/%s",
		m.baseURL,
		url.PathEscape(username),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", "", err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		//
	case http.StatusNotFound, http.StatusNoContent:
		return "", "", ErrNotFound
	default:
		return "", "", fmt.Errorf(
			"unexpected status %d resolving minecraft profile",
			resp.StatusCode,
		)
	}

	var profile mojangProfile
	body := io.LimitReader(resp.Body, maxExternalResponseBytes)
	if err = json.NewDecoder(body).Decode(&profile); err != nil {
		return "", "", err
	}
	return formatMojangUUID(profile.ID), profile.Name, nil
}

// formatMojangUUID inserts dashes into the compact 32-char UUID the
// Mojang API returns. Anything unexpected passes through unchanged.
func formatMojangUUID(id string) string {
	if len(id) != 32 {
		return id
	}
	return fmt.Sprintf(
		"%s-%s-%s-%s-%s",
		id[0:8],
		id[8:12],
		id[12:16],
		id[16:20],
		id[20:32],
	)
}

// TriviaClient fetches questions from the Open Trivia DB.
type TriviaClient struct {
	baseURL string
	client  *http.Client
}

// TriviaQuestion is a single multiple-choice question.
type TriviaQuestion struct {
	Category         string   `json:"category"`
	Difficulty       string   `json:"difficulty"`
	Question         string   `json:"question"`
	CorrectAnswer    string   `json:"correct_answer"`
	IncorrectAnswers []string `json:"incorrect_answers"`
}

type triviaResponse struct {
	ResponseCode int              `json:"response_code"`
	Results      []TriviaQuestion `json:"results"`
}

// Question fetches one multiple-choice question, optionally filtered by
// difficulty ("easy", "medium", "hard").
func (t *TriviaClient) Question(ctx context.Context, difficulty string) (
	*TriviaQuestion,
	error,
) {
	params := url.Values{}
	params.Set("amount", "1")
	params.Set("type", "multiple")
	if difficulty != "" {
		params.Set("difficulty", difficulty)
	}

	var result triviaResponse
	err := getJSON(
		ctx,
		t.client,
		fmt.Sprintf("%s/api.php?%s", t.baseURL, params.Encode()),
		&result,
	)
	if err != nil {
		return nil, err
	}
	if result.ResponseCode != 0 || len(result.Results) == 0 {
		return nil, fmt.Errorf(
			"trivia api returned code %d with %d results",
			result.ResponseCode,
			len(result.Results),
		)
	}
	q := result.Results[0]
	q.Question = decodeHTMLEntities(q.Question)
	q.CorrectAnswer = decodeHTMLEntities(q.CorrectAnswer)
	for i, a := range q.IncorrectAnswers {
		q.IncorrectAnswers[i] = decodeHTMLEntities(a)
	}
	return &q, nil
}

// decodeHTMLEntities unescapes the entities the trivia API embeds in
// its default encoding.
func decodeHTMLEntities(s string) string {
	replacer := strings.NewReplacer(
		"&quot;", `"`,
		"&#039;", "'",
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&eacute;", "é",
		"&ouml;", "ö",
		"&uuml;", "ü",
	)
	return replacer.Replace(s)
}

// MinecraftBridgeClient talks to the HTTP bridge running next to the
// managed Minecraft server.
type MinecraftBridgeClient struct {
	baseURL string
	client  *http.Client
}

// Enabled reports whether a bridge URL is configured.
func (m *MinecraftBridgeClient) Enabled() bool {
	return m.baseURL != ""
}

// MinecraftServerStatus is the bridge's status document.
type MinecraftServerStatus struct {
	Online     bool     `json:"online"`
	Host       string   `json:"host,omitempty"`
	Port       int      `json:"port,omitempty"`
	Version    string   `json:"version,omitempty"`
	MOTD       string   `json:"motd,omitempty"`
	Players    []string `json:"players,omitempty"`
	MaxPlayers int      `json:"max_players,omitempty"`
}

// Status fetches the live server status from the bridge.
func (m *MinecraftBridgeClient) Status(ctx context.Context) (
	*MinecraftServerStatus,
	error,
) {
	if !m.Enabled() {
		return nil, fmt.Errorf("no minecraft bridge configured")
	}
	var status MinecraftServerStatus
	if err := getJSON(
		ctx, m.client, m.baseURL+"/status", &status,
	); err != nil {
		return nil, err
	}
	return &status, nil
}

// MinecraftPlayerStats is the bridge's per-player stats document.
type MinecraftPlayerStats struct {
	Username    string `json:"username"`
	UUID        string `json:"uuid,omitempty"`
	PlayTime    int64  `json:"play_time_seconds,omitempty"`
	Deaths      int64  `json:"deaths,omitempty"`
	MobKills    int64  `json:"mob_kills,omitempty"`
	PlayerKills int64  `json:"player_kills,omitempty"`
	LastSeen    int64  `json:"last_seen,omitempty"`
}

// PlayerStats fetches stats for a single player. Returns ErrNotFound
// when the bridge doesn't know the player.
func (m *MinecraftBridgeClient) PlayerStats(
	ctx context.Context,
	username string,
) (*MinecraftPlayerStats, error) {
	if !m.Enabled() {
		return nil, fmt.Errorf("no minecraft bridge configured")
	}
	u := fmt.Sprintf(
		"%s/player/%s/stats",
		m.baseURL,
		url.PathEscape(username),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		//
	case http.StatusNotFound:
		return nil, ErrNotFound
	default:
		return nil, fmt.Errorf(
			"unexpected status %d fetching player stats",
			resp.StatusCode,
		)
	}
	var stats MinecraftPlayerStats
	body := io.LimitReader(resp.Body, maxExternalResponseBytes)
	if err = json.NewDecoder(body).Decode(&stats); err != nil {
		return nil, err
	}
	return &stats, nil
}
