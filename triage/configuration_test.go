// SPDX-License-Identifier: GPL-3.0-or-later
package triage

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxBatchIDs(t *testing.T) {
	tests := []struct {
		name          string
		input         int
		cfg           *configuration
		expected      *configuration
		expectedError error
	}{
		{"ok", 25, &configuration{}, &configuration{MaxBatchIDs: 25}, nil},
		{"zerovalidation", 0, &configuration{}, nil, fmt.Errorf("MaxBatchIDs must be positive")},
		{"negativevalidation", -5, &configuration{}, nil, fmt.Errorf("MaxBatchIDs must be positive")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := MaxBatchIDs(tc.input)(tc.cfg)
			if tc.expected != nil {
				assert.Equal(t, tc.expected, tc.cfg)
				assert.Nil(t, err)
			} else {
				assert.Equal(t, tc.expectedError, err)
			}
		})
	}
}

func TestSubBatchSize(t *testing.T) {
	tests := []struct {
		name          string
		input         int
		cfg           *configuration
		expected      *configuration
		expectedError error
	}{
		{"ok", 15, &configuration{}, &configuration{SubBatchSize: 15}, nil},
		{"zerovalidation", 0, &configuration{}, nil, fmt.Errorf("SubBatchSize must be positive")},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := SubBatchSize(tc.input)(tc.cfg)
			if tc.expected != nil {
				assert.Equal(t, tc.expected, tc.cfg)
				assert.Nil(t, err)
			} else {
				assert.Equal(t, tc.expectedError, err)
			}
		})
	}
}
