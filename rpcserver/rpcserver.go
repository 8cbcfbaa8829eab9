// SPDX-License-Identifier: GPL-3.0-or-later
package rpcserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/mailtriage/go-mail-triage/domain"
	"github.com/mailtriage/go-mail-triage/log"
	"github.com/mailtriage/go-mail-triage/triage"

	"github.com/sirupsen/logrus"
)

// Server speaks line-oriented JSON-RPC 2.0 over a reader/writer pair,
// exposing the four triage operations as methods. Requests are handled
// sequentially in arrival order.
type Server struct {
	triage *triage.Triage
	in     io.Reader
	out    io.Writer

	l *logrus.Logger
}

const (
	MethodAnalyze  = "email_analyze"
	MethodClassify = "email_classify"
	MethodAction   = "email_action"
	MethodSearch   = "email_search"
)

const (
	codeParse         = -32700
	codeInvalidReq    = -32600
	codeUnknownMethod = -32601
	codeInvalidParams = -32602
	codeOperation     = -32000
)

type request struct {
	JsonRpc string          `json:"jsonrpc"`
	Id      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type response struct {
	JsonRpc string          `json:"jsonrpc"`
	Id      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

type errorData struct {
	Kind domain.ErrorKind `json:"kind"`
}

func NewServer(t *triage.Triage, in io.Reader, out io.Writer) *Server {
	return &Server{
		triage: t,
		in:     in,
		out:    out,
		l:      log.Logger(log.LOG_RPC),
	}
}

// Run reads requests until the input stream ends or the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	decoder := json.NewDecoder(s.in)
	encoder := json.NewEncoder(s.out)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var req request
		err := decoder.Decode(&req)
		if errors.Is(err, io.EOF) {
			s.l.Info("Input stream closed, shutting down")
			return nil
		}
		if err != nil {
			writeErr := encoder.Encode(&response{
				JsonRpc: "2.0",
				Error:   &rpcError{Code: codeParse, Message: fmt.Sprintf("could not parse request: %v", err)},
			})
			if writeErr != nil {
				return fmt.Errorf("could not write response: %w", writeErr)
			}
			// The decoder is unusable after a syntax error mid-stream.
			return fmt.Errorf("could not parse request: %w", err)
		}

		resp := s.dispatch(ctx, &req)
		if resp == nil {
			// Notification, nothing to write back.
			continue
		}
		err = encoder.Encode(resp)
		if err != nil {
			return fmt.Errorf("could not write response: %w", err)
		}
	}
}

func (s *Server) dispatch(ctx context.Context, req *request) *response {
	l := s.l.WithField("method", req.Method)
	l.Debug("Dispatching request")

	if req.JsonRpc != "2.0" {
		return errResponse(req.Id, codeInvalidReq, "unsupported jsonrpc version", nil)
	}

	var result interface{}
	var err error
	switch req.Method {
	case MethodAnalyze:
		result, err = s.analyze(ctx, req.Params)
	case MethodClassify:
		result, err = s.classify(ctx, req.Params)
	case MethodAction:
		result, err = s.action(ctx, req.Params)
	case MethodSearch:
		result, err = s.search(ctx, req.Params)
	default:
		return errResponse(req.Id, codeUnknownMethod, fmt.Sprintf("unknown method %q", req.Method), nil)
	}

	if req.Id == nil {
		return nil
	}

	if err != nil {
		kind := domain.ErrorKindOf(err)
		l.WithFields(logrus.Fields{"kind": kind, "error": err}).Warn("Request failed")
		return errResponse(req.Id, operationCode(kind), err.Error(), &errorData{Kind: kind})
	}

	return &response{JsonRpc: "2.0", Id: req.Id, Result: result}
}

type analyzeParams struct {
	EmailID       string   `json:"email_id"`
	AnalysisTypes []string `json:"analysis_types"`
}

func (s *Server) analyze(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params analyzeParams
	err := decodeParams(raw, &params)
	if err != nil {
		return nil, err
	}

	types := make([]domain.AnalysisType, 0, len(params.AnalysisTypes))
	for _, t := range params.AnalysisTypes {
		types = append(types, domain.AnalysisType(t))
	}

	return s.triage.Analyze(ctx, params.EmailID, types)
}

type classifyParams struct {
	EmailIDs           []string `json:"email_ids"`
	ClassificationType string   `json:"classification_type"`
	BatchSize          int      `json:"batch_size"`
}

func (s *Server) classify(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params classifyParams
	err := decodeParams(raw, &params)
	if err != nil {
		return nil, err
	}

	return s.triage.Classify(ctx, params.EmailIDs, domain.AnalysisType(params.ClassificationType), params.BatchSize)
}

type actionParams struct {
	EmailIDs []string            `json:"email_ids"`
	Action   string              `json:"action"`
	Params   domain.ActionParams `json:"params"`
}

func (s *Server) action(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params actionParams
	err := decodeParams(raw, &params)
	if err != nil {
		return nil, err
	}

	return s.triage.Action(ctx, params.EmailIDs, domain.Action(params.Action), params.Params)
}

type searchParams struct {
	Query           string               `json:"query"`
	Filters         domain.SearchFilters `json:"filters"`
	Limit           int                  `json:"limit"`
	IncludeAnalysis bool                 `json:"include_analysis"`
}

func (s *Server) search(ctx context.Context, raw json.RawMessage) (interface{}, error) {
	var params searchParams
	err := decodeParams(raw, &params)
	if err != nil {
		return nil, err
	}

	return s.triage.Search(ctx, params.Query, params.Filters, params.Limit, params.IncludeAnalysis)
}

func decodeParams(raw json.RawMessage, into interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: missing params", domain.ErrValidation)
	}
	err := json.Unmarshal(raw, into)
	if err != nil {
		return fmt.Errorf("%w: could not decode params: %v", domain.ErrValidation, err)
	}
	return nil
}

func operationCode(kind domain.ErrorKind) int {
	switch kind {
	case domain.KindValidation, domain.KindBatchTooLarge, domain.KindInvalidBatchSize:
		return codeInvalidParams
	default:
		return codeOperation
	}
}

func errResponse(id json.RawMessage, code int, message string, data interface{}) *response {
	return &response{
		JsonRpc: "2.0",
		Id:      id,
		Error:   &rpcError{Code: code, Message: message, Data: data},
	}
}
