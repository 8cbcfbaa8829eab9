// SPDX-License-Identifier: GPL-3.0-or-later
package rpcserver

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/mailtriage/go-mail-triage/domain"
	"github.com/mailtriage/go-mail-triage/log"

	"github.com/stretchr/testify/assert"
)

func runRequests(t *testing.T, input string) []response {
	log.InitLogging("error")
	out := &bytes.Buffer{}
	server := NewServer(nil, strings.NewReader(input), out)

	err := server.Run(context.Background())
	assert.NoError(t, err)

	responses := []response{}
	decoder := json.NewDecoder(out)
	for decoder.More() {
		var resp response
		assert.NoError(t, decoder.Decode(&resp))
		responses = append(responses, resp)
	}
	return responses
}

func TestServer_UnknownMethod(t *testing.T) {
	responses := runRequests(t, `{"jsonrpc":"2.0","id":1,"method":"email_forward","params":{}}`)

	assert.Len(t, responses, 1)
	assert.NotNil(t, responses[0].Error)
	assert.Equal(t, codeUnknownMethod, responses[0].Error.Code)
	assert.Equal(t, "unknown method \"email_forward\"", responses[0].Error.Message)
}

func TestServer_RejectsWrongVersion(t *testing.T) {
	responses := runRequests(t, `{"jsonrpc":"1.0","id":1,"method":"email_search","params":{}}`)

	assert.Len(t, responses, 1)
	assert.Equal(t, codeInvalidReq, responses[0].Error.Code)
}

func TestServer_ParseErrorEndsRun(t *testing.T) {
	log.InitLogging("error")
	out := &bytes.Buffer{}
	server := NewServer(nil, strings.NewReader(`{not json`), out)

	err := server.Run(context.Background())
	assert.Error(t, err)
	assert.Contains(t, out.String(), "could not parse request")
}

func TestServer_EOFShutsDownCleanly(t *testing.T) {
	log.InitLogging("error")
	server := NewServer(nil, strings.NewReader(""), &bytes.Buffer{})
	assert.NoError(t, server.Run(context.Background()))
}

func TestDecodeParams(t *testing.T) {
	var into analyzeParams

	err := decodeParams(nil, &into)
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = decodeParams(json.RawMessage(`{"email_id": 7}`), &into)
	assert.ErrorIs(t, err, domain.ErrValidation)

	err = decodeParams(json.RawMessage(`{"email_id":"1","analysis_types":["sentiment"]}`), &into)
	assert.NoError(t, err)
	assert.Equal(t, "1", into.EmailID)
	assert.Equal(t, []string{"sentiment"}, into.AnalysisTypes)
}

func TestOperationCode(t *testing.T) {
	tests := []struct {
		kind     domain.ErrorKind
		expected int
	}{
		{domain.KindValidation, codeInvalidParams},
		{domain.KindBatchTooLarge, codeInvalidParams},
		{domain.KindInvalidBatchSize, codeInvalidParams},
		{domain.KindTransientRemote, codeOperation},
		{domain.KindAnalysisUnavailable, codeOperation},
		{domain.KindCancelled, codeOperation},
	}
	for _, tc := range tests {
		t.Run(string(tc.kind), func(t *testing.T) {
			assert.Equal(t, tc.expected, operationCode(tc.kind))
		})
	}
}
