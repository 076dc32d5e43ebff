package ui

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

	"fleet-steward/backend/app/dto"
)

// Session holds the operator's ledger connection.
type Session struct {
	BaseURL string
	Token   string
	http    *http.Client
}

func NewSession(baseURL string) *Session {
	return &Session{BaseURL: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 15 * time.Second}}
}

func (s *Session) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}
	resp, err := s.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var e dto.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Login exchanges admin credentials for a token kept on the session.
func (s *Session) Login(ctx context.Context, username, password string) error {
	var tr dto.TokenResponse
	if err := s.do(ctx, http.MethodPost, "/login", dto.LoginRequest{Username: username, Password: password}, &tr); err != nil {
		return err
	}
	if tr.AccessToken == "" {
		return fmt.Errorf("login returned no token")
	}
	s.Token = tr.AccessToken
	return nil
}

func (s *Session) Queue(ctx context.Context, deviceID string) ([]dto.CommandResponse, error) {
	q := url.Values{"device_id": {deviceID}, "limit": {"200"}}
	var out []dto.CommandResponse
	err := s.do(ctx, http.MethodGet, "/admin/commands?"+q.Encode(), nil, &out)
	return out, err
}

func (s *Session) Enqueue(ctx context.Context, deviceID, typ string, payload any) (*dto.CommandResponse, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out dto.CommandResponse
	err = s.do(ctx, http.MethodPost, "/admin/commands", dto.CreateCommandRequest{DeviceID: deviceID, Type: typ, Payload: raw}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
