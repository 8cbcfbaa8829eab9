// SPDX-License-Identifier: GPL-3.0-or-later
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mailtriage/go-mail-triage/domain"
)

const ScorerTimeout = 20 * time.Second

// Scorer talks to an external HTTP analysis service. The wire contract is a
// single POST per message with the requested types; the service may answer a
// subset of them.
type Scorer struct {
	client *http.Client
	host   string
	token  string
}

func NewScorer(host, token string) (*Scorer, error) {
	scorer := &Scorer{
		client: &http.Client{
			Timeout: ScorerTimeout,
		},
		host:  host,
		token: token,
	}
	err := scorer.Ping()
	if err != nil {
		return nil, fmt.Errorf("could not ping scorer: %w", err)
	}

	return scorer, nil
}

func (s *Scorer) Ping() error {
	resp, err := s.client.Get(s.host + "/ping")
	if err != nil {
		return fmt.Errorf("could not ping scorer: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d from scorer, expected 200", resp.StatusCode)
	}

	return nil
}

type scoreRequest struct {
	ID      string   `json:"id"`
	Subject string   `json:"subject"`
	Sender  string   `json:"sender"`
	Body    string   `json:"body"`
	Types   []string `json:"types"`
}

type scoreResponse struct {
	Category   *string `json:"category"`
	Priority   *string `json:"priority"`
	Sentiment  *string `json:"sentiment"`
	Summary    *string `json:"summary"`
	Confidence float64 `json:"confidence"`
}

func (s *Scorer) Score(ctx context.Context, msg *domain.Message, types []domain.AnalysisType) (*domain.AnalysisResult, error) {
	request := scoreRequest{
		ID:      msg.ID,
		Subject: msg.Subject,
		Sender:  msg.Sender,
		Body:    msg.BodyExcerpt,
	}
	for _, t := range types {
		request.Types = append(request.Types, string(t))
	}

	encoded, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("could not serialize score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.host+"/score", bytes.NewReader(encoded))
	if err != nil {
		return nil, fmt.Errorf("could not create score request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.doAuthenticated(req)
	if err != nil {
		return nil, fmt.Errorf("could not perform score request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("scorer rejected request: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from scorer, expected 200", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("could not read scorer response: %w", err)
	}

	scoreResponse := &scoreResponse{}
	err = json.Unmarshal(body, scoreResponse)
	if err != nil {
		return nil, fmt.Errorf("could not deserialize scorer response: %w", err)
	}

	if scoreResponse.Confidence < 0 || scoreResponse.Confidence > 1 {
		return nil, fmt.Errorf("scorer confidence %f out of range", scoreResponse.Confidence)
	}

	return &domain.AnalysisResult{
		Category:   scoreResponse.Category,
		Priority:   scoreResponse.Priority,
		Sentiment:  scoreResponse.Sentiment,
		Summary:    scoreResponse.Summary,
		Confidence: scoreResponse.Confidence,
	}, nil
}

func (s *Scorer) doAuthenticated(req *http.Request) (*http.Response, error) {
	if len(s.token) > 0 {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	resp, err := s.client.Do(req)

	if err != nil {
		return nil, fmt.Errorf("could not send request to scorer: %w", err)
	}

	return resp, nil
}
