package douyu

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/livarr/livarr/internal/httpclient"
)

// Resolver errors a caller may branch on.
var (
	// ErrAuthRejected is returned when the play endpoint rejects the request
	// even after the signing key was refreshed.
	ErrAuthRejected = errors.New("play request rejected after key refresh")

	// ErrNoStreamURL is returned when the play response carries neither an
	// RTMP nor an HLS stream location.
	ErrNoStreamURL = errors.New("play info contains no stream url")
)

const (
	encryptionPath = "/wgapi/livenc/liveweb/websec/getEncryption"
	playPath       = "/lapi/live/getH5PlayV1/"

	// playVersion is the web player version string the play endpoint
	// validates against its signing scheme.
	playVersion = "219032101"

	// keyExpirySlackSecs refreshes the key slightly ahead of server-side
	// expiry so a segment boundary never lands on a dead key.
	keyExpirySlackSecs = 5

	// keyFallbackTTLSecs caches the key briefly when the server reports no
	// expiry at all.
	keyFallbackTTLSecs = 300
)

// KeyBundle is the signing material returned by the encryption endpoint.
type KeyBundle struct {
	EncData   string
	RandStr   string
	Key       string
	EncTime   int
	IsSpecial bool
	ExpireAt  int64 // unix seconds; 0 when the server reports none
}

// StreamSource is a playable stream location plus the headers a downstream
// fetcher must present.
type StreamSource struct {
	URL     string
	Headers map[string]string
}

// Resolver signs and fetches play URLs for live rooms, caching the signing
// key until its server-reported expiry.
type Resolver struct {
	client *Client
	cdn    string
	rate   int
	logger *slog.Logger

	mu           sync.Mutex
	bundle       *KeyBundle
	keyExpiresAt int64 // unix seconds
}

// NewResolver builds a Resolver on top of a shared Client.
func NewResolver(client *Client, cdn string, rate int) *Resolver {
	return &Resolver{
		client: client,
		cdn:    cdn,
		rate:   rate,
		logger: client.logger.With(slog.String("component", "douyu.resolver")),
	}
}

// Resolve returns the stream source for a room. On HTTP 403 the cached key is
// invalidated and the request retried exactly once with a fresh key.
func (r *Resolver) Resolve(ctx context.Context, roomID string) (*StreamSource, error) {
	headers := r.client.Headers()

	var play *playData
	for attempt := 0; attempt < 2; attempt++ {
		bundle, err := r.ensureKey(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching signing key: %w", err)
		}

		ts := nowUnix()
		params := url.Values{
			"cdn":      {r.cdn},
			"rate":     {strconv.Itoa(r.rate)},
			"ver":      {playVersion},
			"iar":      {"0"},
			"ive":      {"0"},
			"rid":      {roomID},
			"hevc":     {"0"},
			"fa":       {"0"},
			"sov":      {"0"},
			"enc_data": {bundle.EncData},
			"tt":       {strconv.FormatInt(ts, 10)},
			"did":      {r.client.DID()},
			"auth":     {signPlayRequest(roomID, ts, bundle)},
		}

		play, err = r.fetchPlayInfo(ctx, roomID, params)
		if err == nil {
			break
		}
		if errors.Is(err, errForbidden) && attempt == 0 {
			r.invalidateKey()
			r.logger.Warn("play request returned 403, refreshing signing key",
				slog.String("room_id", roomID),
			)
			continue
		}
		return nil, err
	}

	if u := joinStreamURL(play.RtmpURL, play.RtmpLive); u != "" {
		return &StreamSource{URL: u, Headers: headers}, nil
	}
	if u := joinStreamURL(play.HlsURL, play.HlsLive); u != "" {
		return &StreamSource{URL: u, Headers: headers}, nil
	}
	return nil, ErrNoStreamURL
}

// errForbidden marks the 403 branch inside Resolve; it never escapes.
var errForbidden = errors.New("forbidden")

type playResponse struct {
	Error flexInt         `json:"error"`
	Msg   string          `json:"msg"`
	Data  json.RawMessage `json:"data"`
}

type playData struct {
	RtmpURL  string `json:"rtmp_url"`
	RtmpLive string `json:"rtmp_live"`
	HlsURL   string `json:"hls_url"`
	HlsLive  string `json:"hls_live"`
}

// fetchPlayInfo issues the signed play request. The platform expects the
// parameters in both the query string and the form body.
func (r *Resolver) fetchPlayInfo(ctx context.Context, roomID string, params url.Values) (*playData, error) {
	encoded := params.Encode()
	playURL := r.client.BaseURL() + playPath + roomID + "?" + encoded

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, playURL, strings.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("creating play request: %w", err)
	}
	req.Header.Set(httpclient.HeaderContentType, httpclient.ContentTypeForm)
	r.client.applyHeaders(req)

	resp, err := r.client.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("play request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %w", ErrAuthRejected, errForbidden)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("play request: unexpected status %d", resp.StatusCode)
	}

	var body playResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding play response: %w", err)
	}
	if body.Error != 0 {
		return nil, fmt.Errorf("play request failed: error %d: %s", body.Error, body.Msg)
	}

	var data playData
	if err := json.Unmarshal(body.Data, &data); err != nil {
		return nil, fmt.Errorf("decoding play info: %w", err)
	}
	return &data, nil
}

type encryptionResponse struct {
	Error flexInt         `json:"error"`
	Msg   string          `json:"msg"`
	Data  json.RawMessage `json:"data"`
}

type keyBundleJSON struct {
	EncData   string  `json:"enc_data"`
	RandStr   string  `json:"rand_str"`
	Key       string  `json:"key"`
	EncTime   flexInt `json:"enc_time"`
	IsSpecial flexInt `json:"is_special"`
	ExpireAt  flexInt `json:"expire_at"`
}

// ensureKey returns the cached key bundle, fetching a fresh one when the
// cache is empty or past its validity window.
func (r *Resolver) ensureKey(ctx context.Context) (*KeyBundle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := nowUnix()
	if r.bundle != nil && now < r.keyExpiresAt {
		return r.bundle, nil
	}

	keyURL := r.client.BaseURL() + encryptionPath + "?did=" + url.QueryEscape(r.client.DID())

	var body encryptionResponse
	if err := r.client.getJSON(ctx, keyURL, &body); err != nil {
		return nil, err
	}
	if body.Error != 0 {
		return nil, fmt.Errorf("getEncryption failed: error %d: %s", body.Error, body.Msg)
	}

	var raw keyBundleJSON
	if err := json.Unmarshal(body.Data, &raw); err != nil {
		return nil, fmt.Errorf("decoding key bundle: %w", err)
	}
	if raw.EncData == "" {
		return nil, errors.New("key bundle missing enc_data")
	}

	bundle := &KeyBundle{
		EncData:   raw.EncData,
		RandStr:   raw.RandStr,
		Key:       raw.Key,
		EncTime:   int(raw.EncTime),
		IsSpecial: raw.IsSpecial != 0,
		ExpireAt:  int64(raw.ExpireAt),
	}

	r.bundle = bundle
	r.keyExpiresAt = keyValidUntil(now, bundle.ExpireAt)
	r.logger.Debug("fetched signing key bundle",
		slog.Int64("valid_until", r.keyExpiresAt),
		slog.Int("enc_time", bundle.EncTime),
	)
	return bundle, nil
}

func (r *Resolver) invalidateKey() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bundle = nil
	r.keyExpiresAt = 0
}

// keyValidUntil computes the cache deadline: the server expiry minus a small
// slack, or a short fallback TTL when the server reports none.
func keyValidUntil(now, expireAt int64) int64 {
	if expireAt > 0 {
		deadline := expireAt - keyExpirySlackSecs
		if deadline < 0 {
			deadline = 0
		}
		return deadline
	}
	return now + keyFallbackTTLSecs
}

// signPlayRequest derives the auth parameter: the secret is rand_str hashed
// with the key enc_time times, then hashed once more with the key and the
// room/timestamp salt (omitted for is_special keys).
func signPlayRequest(roomID string, ts int64, bundle *KeyBundle) string {
	secret := bundle.RandStr
	for i := 0; i < bundle.EncTime; i++ {
		secret = md5Hex(secret + bundle.Key)
	}

	salt := ""
	if !bundle.IsSpecial {
		salt = roomID + strconv.FormatInt(ts, 10)
	}
	return md5Hex(secret + bundle.Key + salt)
}

func md5Hex(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// joinStreamURL joins a base URL and a live path, tolerating stray slashes
// on either side.
func joinStreamURL(base, live string) string {
	if base == "" || live == "" {
		return ""
	}
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(live, "/")
}
