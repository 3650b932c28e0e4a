package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"crypto-terminal/internal/common"
	"crypto-terminal/internal/util"
	"crypto-terminal/pkg/models"
)

const (
	registerPath     = "/auth/register"
	loginPath        = "/auth/login"
	checkVersionPath = "/sec/check_version"

	bodyExcerptLimit = 200
)

// Gateway is the set of backend capabilities the terminal consumes.
type Gateway interface {
	CheckClientVersion(ctx context.Context, version string) (bool, string)
	Register(ctx context.Context, login, password, exchangeKey, exchangeSecret string) (*models.UserInfo, error)
	Login(ctx context.Context, login, password string) (*models.UserInfo, error)
}

// RejectionError is a 4xx/5xx answer from the backend. Detail is shown to
// the user as is.
type RejectionError struct {
	Status int
	Detail string
}

func (e *RejectionError) Error() string {
	return e.Detail
}

type userInfoResponse struct {
	Login   string `json:"login"`
	APIKeys struct {
		MEXCAPIKey    string `json:"mexc_api_key"`
		MEXCAPISecret string `json:"mexc_api_secret"`
	} `json:"api_keys"`
}

type detailResponse struct {
	Detail  json.RawMessage `json:"detail"`
	Message string          `json:"message"`
}

// Client talks to the terminal backend over HTTP.
type Client struct {
	baseURL     string
	authClient  *http.Client
	checkClient *http.Client
	logger      *util.Logger
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		authClient:  &http.Client{Timeout: common.AuthTimeoutSec * time.Second},
		checkClient: &http.Client{Timeout: common.VersionCheckTimeoutSec * time.Second},
		logger:      util.NewLogger("backend"),
	}
}

// CheckClientVersion reports whether the backend accepts version. A false
// result must stop the application.
func (c *Client) CheckClientVersion(ctx context.Context, version string) (bool, string) {
	payload, _ := json.Marshal(map[string]string{"client_version": version})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+checkVersionPath, bytes.NewReader(payload))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.checkClient.Do(req)
	if err != nil {
		c.logger.Error(err, common.ErrCodeVersionCheckFailed, common.ErrMsgVersionCheckFailed, "Version check request failed")
		return false, fmt.Sprintf("Network error during version check: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	var parsed detailResponse
	jsonErr := json.Unmarshal(body, &parsed)
	detail := detailText(parsed.Detail)

	switch {
	case resp.StatusCode == http.StatusOK:
		if parsed.Message == "" {
			return true, "Client version is up to date."
		}
		return true, parsed.Message
	case resp.StatusCode == http.StatusUpgradeRequired:
		if detail == "" {
			detail = "Update required"
		}
		c.logger.Warn(common.ErrCodeVersionCheckFailed, common.ErrMsgVersionCheckFailed, "Client version outdated",
			"version", version, "detail", detail)
		return false, detail
	}

	if detail != "" {
		return false, detail
	}
	message := fmt.Sprintf("Unexpected server response: %d", resp.StatusCode)
	if jsonErr != nil {
		message += ". Response: " + excerpt(body)
	}
	return false, message
}

// Register creates an account bound to the given exchange key pair.
func (c *Client) Register(ctx context.Context, login, password, exchangeKey, exchangeSecret string) (*models.UserInfo, error) {
	payload, err := json.Marshal(map[string]string{
		"login":           login,
		"password":        password,
		"exchange_key":    exchangeKey,
		"exchange_secret": exchangeSecret,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+registerPath, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.doAuth(req, "Registration failed")
}

// Login authenticates with form-encoded credentials.
func (c *Client) Login(ctx context.Context, login, password string) (*models.UserInfo, error) {
	form := url.Values{"login": {login}, "password": {password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.doAuth(req, "Login failed")
}

func (c *Client) doAuth(req *http.Request, fallback string) (*models.UserInfo, error) {
	resp, err := c.authClient.Do(req)
	if err != nil {
		c.logger.Error(err, common.ErrCodeAuthFailed, common.ErrMsgAuthFailed, "Auth request failed", "path", req.URL.Path)
		return nil, fmt.Errorf("network error: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("network error: %w", err)
	}

	if resp.StatusCode >= 400 {
		rejection := &RejectionError{Status: resp.StatusCode, Detail: fallback}
		var parsed detailResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			rejection.Detail = fmt.Sprintf("Server error: %d. Response: %s", resp.StatusCode, excerpt(body))
		} else if detail := detailText(parsed.Detail); detail != "" {
			rejection.Detail = detail
		}
		c.logger.Warn(common.ErrCodeAuthFailed, common.ErrMsgAuthFailed, "Auth request rejected",
			"path", req.URL.Path, "status", resp.StatusCode, "detail", rejection.Detail)
		return nil, rejection
	}

	var user userInfoResponse
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("decode user info: %w", err)
	}
	return &models.UserInfo{
		Login: user.Login,
		Credentials: models.Credentials{
			APIKey:    user.APIKeys.MEXCAPIKey,
			APISecret: user.APIKeys.MEXCAPISecret,
		},
	}, nil
}

// detailText accepts both a plain string detail and structured validation
// details, which are rendered as compact JSON.
func detailText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func excerpt(body []byte) string {
	s := string(body)
	if len(s) > bodyExcerptLimit {
		s = s[:bodyExcerptLimit]
	}
	return s
}
