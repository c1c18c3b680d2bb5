package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// ErrPersist marks every failure to store a chat message
var ErrPersist = errors.New("persist message")

// MessageStore saves a chat line and returns the stored record as it should
// be shown to clients
type MessageStore interface {
	CreateMessage(ctx context.Context, sender, content string) (json.RawMessage, error)
}

// PayloadStore creates messages through the Payload CMS REST API
type PayloadStore struct {
	baseURL string
	client  *http.Client
}

// NewPayloadStore creates a store for the CMS at baseURL. A nil client
// means http.DefaultClient.
func NewPayloadStore(baseURL string, client *http.Client) *PayloadStore {
	if client == nil {
		client = http.DefaultClient
	}
	return &PayloadStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
	}
}

type createMessageRequest struct {
	Sender  string `json:"sender"`
	Content string `json:"content"`
}

type createMessageResponse struct {
	Doc json.RawMessage `json:"doc"`
}

// maxErrorBody bounds how much of a failed response ends up in the error
const maxErrorBody = 512

// CreateMessage posts to {baseURL}/api/messages and returns the response's
// doc object
func (s *PayloadStore) CreateMessage(ctx context.Context, sender, content string) (json.RawMessage, error) {
	body, err := json.Marshal(createMessageRequest{Sender: sender, Content: content})
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrPersist, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/api/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrPersist, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPersist, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, fmt.Errorf("%w: status %d: %s", ErrPersist, resp.StatusCode, strings.TrimSpace(string(excerpt)))
	}

	var out createMessageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrPersist, err)
	}
	if len(out.Doc) == 0 || string(out.Doc) == "null" {
		return nil, fmt.Errorf("%w: response has no doc", ErrPersist)
	}
	return out.Doc, nil
}

// persistResult carries a finished store call back to the hub loop
type persistResult struct {
	session *Session
	record  json.RawMessage
	err     error
}

// persist runs a store call with a timeout. It is the only work done off
// the hub loop.
func persist(ctx context.Context, store MessageStore, timeout time.Duration, s *Session, sender, content string) persistResult {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	record, err := store.CreateMessage(ctx, sender, content)
	return persistResult{session: s, record: record, err: err}
}
