// SPDX-License-Identifier: GPL-3.0-or-later
package mail

import (
	"os"
	"path"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseDetails(t *testing.T) {
	tests := []struct {
		name           string
		subject        string
		sender         string
		date           time.Time
		excerpt        string
		hasAttachments bool
	}{
		{
			"plain.msg",
			"Quarterly report",
			"alice@example.com",
			time.Date(2023, 1, 2, 15, 4, 5, 0, time.UTC),
			"Hello Bob, the quarterly report is attached to the portal, not to this mail. Regards Alice",
			false,
		},
		{
			"encodedsubject.msg",
			"M¥ RêÐ news",
			"news@example.com",
			time.Date(2023, 1, 3, 10, 0, 0, 0, time.UTC),
			"Short body.",
			false,
		},
		{
			"attachment.msg",
			"Invoice for July",
			"billing@example.com",
			time.Date(2023, 7, 5, 8, 30, 0, 0, time.UTC),
			"Please find the invoice attached.",
			true,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rawMail, err := os.ReadFile(path.Join("testdata", tc.name))
			assert.NoError(t, err)

			details, err := ParseDetails(rawMail)
			assert.NoError(t, err)
			assert.Equal(t, tc.subject, details.Subject)
			assert.Equal(t, tc.sender, details.Sender)
			assert.True(t, details.Date.Equal(tc.date), "expected %v, got %v", tc.date, details.Date)
			assert.Equal(t, tc.excerpt, details.Excerpt)
			assert.Equal(t, tc.hasAttachments, details.HasAttachments)
		})
	}
}

func TestParseDetailsGarbage(t *testing.T) {
	details, err := ParseDetails([]byte("not a mail at all"))
	assert.Nil(t, details)
	assert.Error(t, err)
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "a b c d", Excerpt("a\n\nb\t c   d"))
	assert.Equal(t, "", Excerpt(""))
	assert.Len(t, Excerpt(strings.Repeat("ab ", 300)), ExcerptMaxLen)
}

func TestShortSubject(t *testing.T) {
	assert.Equal(t, "short", ShortSubject("short"))
	long := strings.Repeat("a", 40)
	assert.Equal(t, strings.Repeat("a", 30)+"...", ShortSubject(long))
}
