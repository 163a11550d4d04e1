// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Warden Contributors

package errutil

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
)

func TestLogError_OopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("MANIFEST_PARSE").With("plugin", "demo").New("bad yaml")
	LogError(logger, "load failed", err)

	out := buf.String()
	assert.Contains(t, out, "load failed")
	assert.Contains(t, out, "MANIFEST_PARSE")
	assert.Contains(t, out, "demo")
}

func TestLogError_CodelessOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LogError(logger, "load failed", oops.In("registry").New("no code here"))

	out := buf.String()
	assert.Contains(t, out, "no code here")
	assert.NotContains(t, out, "code", "an unset code is omitted, not logged as null")
}

func TestLogError_PlainError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	LogError(logger, "something broke", errors.New("disk full"))

	out := buf.String()
	assert.Contains(t, out, "something broke")
	assert.Contains(t, out, "disk full")
	assert.NotContains(t, out, "code")
}

func TestAssertHelpers(t *testing.T) {
	err := oops.Code("INVALID_MANIFEST").With("name", "Bad").New("rejected")
	AssertErrorCode(t, err, "INVALID_MANIFEST")
	AssertErrorContext(t, err, "name", "Bad")
}
