package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCutText(t *testing.T) {
	testCases := []struct {
		text        string
		size        int
		expected    string
		isTruncated bool
	}{
		{text: "select 1", size: 10, expected: "select 1"},
		{text: "select 1", size: 8, expected: "select 1"},
		{text: "select * from orders", size: 9, expected: "select...", isTruncated: true},
		{text: "select 'ёж'", size: 13, expected: "select 'ёж'"},
		{text: "select 'ёжик'", size: 12, expected: "select '...", isTruncated: true},
		{text: "select 'ёжик'", size: 13, expected: "select 'ё...", isTruncated: true},
		{text: "select 1", size: 2, expected: "...", isTruncated: true},
	}

	for _, tc := range testCases {
		result, isTruncated := CutText(tc.text, tc.size, SeparatorEllipsis)
		assert.Equal(t, tc.expected, result)
		assert.Equal(t, tc.isTruncated, isTruncated)
	}
}
