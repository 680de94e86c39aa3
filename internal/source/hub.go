package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/Aman-CERP/cpe/internal/packet"
)

// hubResolveRequest is the body of a POST to a hub's /v1/resolve endpoint.
type hubResolveRequest struct {
	Name string `json:"name"`
}

// hubResolveResponse is the hub's answer: a digest-addressed location the
// packet can actually be fetched from (typically an oci:// reference the
// caller then hands to OciSource).
type hubResolveResponse struct {
	Digest   string `json:"digest"`
	Location string `json:"location"`
}

// HubSource resolves "hub://<name>" references against a registry-style
// lookup service, using plain net/http + encoding/json rather than pulling
// in a dedicated REST client library.
type HubSource struct {
	baseURL string
	client  *http.Client
	inner   *Registry // used to fetch the resolved location (typically oci://)
}

// NewHubSource constructs a HubSource that resolves names against baseURL
// and fetches the resolved location through inner (normally a registry
// containing an OciSource).
func NewHubSource(baseURL string, inner *Registry) *HubSource {
	return &HubSource{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		inner:   inner,
	}
}

func (s *HubSource) CanHandle(uri string) bool {
	return strings.HasPrefix(uri, "hub://")
}

func (s *HubSource) name(uri string) string {
	return stripScheme(uri, "hub")
}

func (s *HubSource) resolveLocation(ctx context.Context, name string) (hubResolveResponse, error) {
	reqBody, err := json.Marshal(hubResolveRequest{Name: name})
	if err != nil {
		return hubResolveResponse{}, fmt.Errorf("source: marshaling hub resolve request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/v1/resolve", bytes.NewReader(reqBody))
	if err != nil {
		return hubResolveResponse{}, fmt.Errorf("source: building hub resolve request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return hubResolveResponse{}, fmt.Errorf("source: calling %s/v1/resolve: %w", s.baseURL, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return hubResolveResponse{}, fmt.Errorf("source: hub resolve for %s failed with status %d: %s", name, resp.StatusCode, string(body))
	}

	var out hubResolveResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return hubResolveResponse{}, fmt.Errorf("source: decoding hub resolve response: %w", err)
	}
	if out.Location == "" {
		return hubResolveResponse{}, fmt.Errorf("source: hub returned no location for %s", name)
	}
	return out, nil
}

func (s *HubSource) Resolve(ctx context.Context, uri string) (packet.PacketReference, error) {
	resolved, err := s.resolveLocation(ctx, s.name(uri))
	if err != nil {
		return packet.PacketReference{}, err
	}
	return packet.PacketReference{URI: uri, Digest: resolved.Digest, Refs: []string{resolved.Location}}, nil
}

func (s *HubSource) Fetch(ctx context.Context, ref packet.PacketReference, destDir string) error {
	if len(ref.Refs) == 0 {
		resolved, err := s.resolveLocation(ctx, s.name(ref.URI))
		if err != nil {
			return err
		}
		ref.Refs = []string{resolved.Location}
		ref.Digest = resolved.Digest
	}
	return s.inner.Fetch(ctx, packet.PacketReference{URI: ref.Refs[0], Digest: ref.Digest}, destDir)
}

func (s *HubSource) CheckUpdates(ctx context.Context, ref packet.PacketReference) (bool, error) {
	resolved, err := s.resolveLocation(ctx, s.name(ref.URI))
	if err != nil {
		return false, err
	}
	return resolved.Digest != ref.Digest, nil
}
