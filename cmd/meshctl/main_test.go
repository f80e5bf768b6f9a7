package main

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDisplayWidthCountsWideRunesAsTwoColumns(t *testing.T) {
	assert.Equal(t, 4, displayWidth("abcd"))
	assert.Equal(t, 4, displayWidth("你好"))
}

func TestBoolStatus(t *testing.T) {
	assert.Equal(t, "ok", boolStatus(true))
	assert.Equal(t, "fail", boolStatus(false))
}

func TestPrintTableAlignsColumnsByDisplayWidth(t *testing.T) {
	var buf bytes.Buffer
	printTable(&buf, []string{"NID", "STATE"}, [][]string{
		{"z1", "Negotiated"},
		{"你好", "Dialing"},
	})
	out := buf.String()
	assert.Contains(t, out, "NID")
	assert.Contains(t, out, "Negotiated")
	assert.Contains(t, out, "你好")
	assert.Equal(t, "NID   STATE       \nz1    Negotiated  \n你好  Dialing     \n", out)
}
