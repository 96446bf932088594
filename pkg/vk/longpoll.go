package vk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tinyland-inc/govorun/pkg/logger"
)

// SessionStatus tracks where a PollSession is in its lifecycle.
type SessionStatus int

const (
	StatusUninitialized SessionStatus = iota
	StatusActive
	StatusInvalid
)

func (s SessionStatus) String() string {
	switch s {
	case StatusUninitialized:
		return "uninitialized"
	case StatusActive:
		return "active"
	case StatusInvalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// failed-code values delivered by the poll server.
const (
	failedCursorDesync  = 1
	failedKeyExpired    = 2
	failedServerDropped = 3
)

// SessionState is the live long-poll session: poll server, session key
// and stream cursor. Owned exclusively by PollSession; the cursor only
// advances on successful fetches.
type SessionState struct {
	Server string
	Key    string
	Cursor string
	Status SessionStatus
}

// SessionSource bootstraps long-poll sessions. *Client satisfies it.
type SessionSource interface {
	GetLongPollServer(ctx context.Context, groupID int64) (Endpoint, error)
}

// PollSession owns the long-poll connection and hides reconnection from
// the caller: key/server invalidation is healed inline, cursor desync is
// absorbed, and network-level failures surface as empty batches. Only a
// bootstrap failure propagates. Not safe for concurrent Fetch calls;
// the gateway loop is the single caller.
type PollSession struct {
	source     SessionSource
	groupID    int64
	wait       int
	httpClient *http.Client
	state      SessionState
}

// NewPollSession creates a session in the Uninitialized state. wait is
// the server-side hold in seconds; httpTimeout bounds the whole request
// and must leave a margin above wait.
func NewPollSession(source SessionSource, groupID int64, wait, httpTimeout int) *PollSession {
	return &PollSession{
		source:  source,
		groupID: groupID,
		wait:    wait,
		httpClient: &http.Client{
			Timeout: time.Duration(httpTimeout) * time.Second,
		},
	}
}

// State returns a copy of the current session state.
func (s *PollSession) State() SessionState {
	return s.state
}

// Initialize requests a fresh {server, key, cursor} triple. Errors here
// are fatal to the session; there is no retry at this layer.
func (s *PollSession) Initialize(ctx context.Context) error {
	ep, err := s.source.GetLongPollServer(ctx, s.groupID)
	if err != nil {
		return fmt.Errorf("initializing long-poll session: %w", err)
	}
	s.state = SessionState{
		Server: ep.Server,
		Key:    ep.Key,
		Cursor: string(ep.Cursor),
		Status: StatusActive,
	}
	return nil
}

// pollResponse is the long-poll wire shape: exactly one of updates or a
// failed code per response.
type pollResponse struct {
	Failed  int               `json:"failed"`
	Cursor  Cursor            `json:"ts"`
	Updates []json.RawMessage `json:"updates"`
}

// Fetch performs one long-poll cycle and returns the raw update batch.
// An empty batch with a nil error covers every recoverable situation:
// timeout, transient network failure, cursor desync and an in-cycle
// session reinitialization. The returned error is reserved for fatal
// bootstrap failures.
func (s *PollSession) Fetch(ctx context.Context) ([]RawUpdate, error) {
	if s.state.Status != StatusActive {
		if err := s.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	resp, err := s.poll(ctx)
	if err != nil {
		if isTimeout(err) {
			logger.DebugC("longpoll", "Poll cycle timed out, no updates")
		} else {
			logger.WarnCF("longpoll", "Poll cycle failed", map[string]any{"error": err.Error()})
		}
		return nil, nil
	}

	if resp.Failed != 0 {
		return nil, s.handleFailed(ctx, resp)
	}

	s.state.Cursor = string(resp.Cursor)

	updates := make([]RawUpdate, 0, len(resp.Updates))
	for _, raw := range resp.Updates {
		var u RawUpdate
		if err := json.Unmarshal(raw, &u); err != nil {
			// Malformed entries are dropped per-record, never abort the batch.
			continue
		}
		updates = append(updates, u)
	}
	return updates, nil
}

func (s *PollSession) poll(ctx context.Context) (*pollResponse, error) {
	params := url.Values{}
	params.Set("act", "a_check")
	params.Set("key", s.state.Key)
	params.Set("ts", s.state.Cursor)
	params.Set("wait", strconv.Itoa(s.wait))

	server := s.state.Server
	if !strings.Contains(server, "://") {
		server = "https://" + server
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	httpResp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	var resp pollResponse
	if err := json.NewDecoder(httpResp.Body).Decode(&resp); err != nil {
		return nil, fmt.Errorf("decoding poll response: %w", err)
	}
	return &resp, nil
}

// handleFailed applies the failed-code protocol. Code 1 adopts the
// server-supplied cursor and stays Active; codes 2 and 3 invalidate the
// session and reinitialize immediately. Every path yields an empty
// batch for this cycle.
func (s *PollSession) handleFailed(ctx context.Context, resp *pollResponse) error {
	switch resp.Failed {
	case failedCursorDesync:
		logger.InfoCF("longpoll", "Cursor desync, adopting server cursor", map[string]any{
			"cursor": string(resp.Cursor),
		})
		s.state.Cursor = string(resp.Cursor)
		return nil
	case failedKeyExpired, failedServerDropped:
		logger.InfoCF("longpoll", "Session invalidated, reinitializing", map[string]any{
			"failed": resp.Failed,
		})
		s.state.Status = StatusInvalid
		return s.Initialize(ctx)
	default:
		logger.WarnCF("longpoll", "Unknown failed code ignored", map[string]any{"failed": resp.Failed})
		return nil
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var uerr *url.Error
	return errors.As(err, &uerr) && uerr.Timeout()
}
