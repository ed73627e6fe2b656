package downloads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultSaveTubeEndpoint = "https://save-tube-video-download.p.rapidapi.com/download"
	saveTubeHost            = "save-tube-video-download.p.rapidapi.com"
	saveTubeArtifact        = "savetube.mp4"
	maxSaveTubeResponse     = 1 << 20
)

var (
	errNoSaveTubeLink = errors.New("savetube: response carried no link")
	errSaveTubeEmpty  = errors.New("savetube: empty file")
)

// SaveTubeConfig configures the RapidAPI SaveTube provider.
type SaveTubeConfig struct {
	APIKey string
	// Endpoint overrides the RapidAPI download endpoint.
	Endpoint string
	Client   *http.Client
}

// SaveTubeProvider resolves TikTok videos through the SaveTube API.
type SaveTubeProvider struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewSaveTubeProvider constructs the provider. It supports nothing without a key.
func NewSaveTubeProvider(cfg SaveTubeConfig) *SaveTubeProvider {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultSaveTubeEndpoint
	}
	client := cfg.Client
	if client == nil {
		client = http.DefaultClient
	}
	return &SaveTubeProvider{apiKey: strings.TrimSpace(cfg.APIKey), endpoint: endpoint, client: client}
}

func (p *SaveTubeProvider) Name() string {
	return "savetube"
}

// Supports accepts video requests for tiktok.com sources when a key is configured.
func (p *SaveTubeProvider) Supports(request FetchRequest) bool {
	if p.apiKey == "" || request.Format != FormatVideo {
		return false
	}
	parsed, err := url.Parse(request.URL)
	if err != nil {
		return false
	}
	host := strings.ToLower(parsed.Hostname())
	return host == "tiktok.com" || strings.HasSuffix(host, ".tiktok.com")
}

type saveTubeResponse struct {
	Links []struct {
		URL string `json:"url"`
	} `json:"links"`
}

func (p *SaveTubeProvider) Fetch(ctx context.Context, request FetchRequest) (string, error) {
	link, err := p.lookup(ctx, request.URL)
	if err != nil {
		return "", err
	}
	return p.download(ctx, link, request)
}

func (p *SaveTubeProvider) lookup(ctx context.Context, source string) (string, error) {
	query := url.Values{"url": []string{source}}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("X-RapidAPI-Key", p.apiKey)
	req.Header.Set("X-RapidAPI-Host", saveTubeHost)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("savetube: lookup: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("savetube: lookup status %d", resp.StatusCode)
	}

	var payload saveTubeResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxSaveTubeResponse)).Decode(&payload); err != nil {
		return "", fmt.Errorf("savetube: decode: %w", err)
	}
	for _, link := range payload.Links {
		if strings.TrimSpace(link.URL) != "" {
			return link.URL, nil
		}
	}
	return "", errNoSaveTubeLink
}

// download streams the direct link into the scratch directory, stopping one
// byte past the ceiling so oversize files are detected without being stored whole.
func (p *SaveTubeProvider) download(ctx context.Context, link string, request FetchRequest) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("savetube: fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("savetube: fetch status %d", resp.StatusCode)
	}

	path := filepath.Join(request.Dir, saveTubeArtifact)
	file, err := os.Create(path)
	if err != nil {
		return "", err
	}

	var body io.Reader = resp.Body
	if request.MaxBytes > 0 {
		body = io.LimitReader(resp.Body, request.MaxBytes+1)
	}
	written, copyErr := io.Copy(file, body)
	closeErr := file.Close()
	switch {
	case copyErr != nil:
		err = fmt.Errorf("savetube: write: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("savetube: close: %w", closeErr)
	case written == 0:
		err = errSaveTubeEmpty
	default:
		return path, nil
	}
	// a truncated file must never be mistaken for an artifact
	_ = os.Remove(path)
	return "", err
}
