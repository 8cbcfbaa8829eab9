// SPDX-License-Identifier: GPL-3.0-or-later
package triage

import "fmt"

const (
	DefaultMaxBatchIDs  = 50
	DefaultSearchLimit  = 20
	SearchLimitCeiling  = 100
	DefaultSubBatchSize = 10
)

type ConfigFunc func(c *configuration) error

func MaxBatchIDs(n int) ConfigFunc {
	return func(c *configuration) error {
		if n <= 0 {
			return fmt.Errorf("MaxBatchIDs must be positive")
		}

		c.MaxBatchIDs = n
		return nil
	}
}

func SubBatchSize(n int) ConfigFunc {
	return func(c *configuration) error {
		if n <= 0 {
			return fmt.Errorf("SubBatchSize must be positive")
		}

		c.SubBatchSize = n
		return nil
	}
}

type configuration struct {
	MaxBatchIDs  int
	SubBatchSize int
}
