// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package attach

import (
	"encoding/base64"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/parley/internal/model"
)

// Error variables for attachment encoding.
var (
	// ErrTooLarge indicates the file exceeds MaxFileSize.
	ErrTooLarge = errors.New("attachment too large")

	// ErrNotRegular indicates the path is a directory or other non-regular
	// file.
	ErrNotRegular = errors.New("not a regular file")
)

// MaxFileSize is the largest attachment accepted, in bytes.
const MaxFileSize = 20 * 1024 * 1024 // 20 MB

// =============================================================================
// PAYLOADS
// =============================================================================

// Payload is an encoded attachment ready to travel in a generation request.
type Payload struct {
	Name     string `json:"name"`
	MimeType string `json:"type"`
	Size     int64  `json:"size"`
	Data     string `json:"data"` // base64
}

// FileError ties an encoding failure to the path that caused it.
type FileError struct {
	Path string
	Err  error
}

func (e *FileError) Error() string {
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *FileError) Unwrap() error { return e.Err }

// =============================================================================
// ENCODER
// =============================================================================

// Encoder reads and base64-encodes attachment files.
type Encoder struct {
	maxSize int64
}

// NewEncoder creates an encoder with the default size limit.
func NewEncoder() *Encoder {
	return &Encoder{maxSize: MaxFileSize}
}

// Encode reads a single file and returns its payload plus the display
// reference that goes on the message.
func (e *Encoder) Encode(path string) (Payload, model.AttachmentRef, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Payload{}, model.AttachmentRef{}, err
	}
	if !info.Mode().IsRegular() {
		return Payload{}, model.AttachmentRef{}, ErrNotRegular
	}
	if info.Size() > e.maxSize {
		return Payload{}, model.AttachmentRef{}, fmt.Errorf("%w: %d bytes (limit %d)", ErrTooLarge, info.Size(), e.maxSize)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Payload{}, model.AttachmentRef{}, err
	}

	name := filepath.Base(path)
	mimeType := detectMimeType(name, data)

	payload := Payload{
		Name:     name,
		MimeType: mimeType,
		Size:     int64(len(data)),
		Data:     base64.StdEncoding.EncodeToString(data),
	}
	ref := model.NewAttachmentRef(name, int64(len(data)), mimeType)
	ref.Preview = previewOf(mimeType, data)
	return payload, ref, nil
}

// EncodeAll encodes every path concurrently. It returns the payloads and
// references for the files that succeeded, in the order given, plus one
// FileError per failure. Failures do not cancel the other files.
func (e *Encoder) EncodeAll(paths []string) ([]Payload, []model.AttachmentRef, []error) {
	payloads := make([]Payload, len(paths))
	refs := make([]model.AttachmentRef, len(paths))
	errs := make([]error, len(paths))

	var g errgroup.Group
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			p, r, err := e.Encode(path)
			if err != nil {
				// Recorded per slot; never propagated, so siblings
				// keep running.
				errs[i] = &FileError{Path: path, Err: err}
				return nil
			}
			payloads[i] = p
			refs[i] = r
			return nil
		})
	}
	_ = g.Wait()

	okPayloads := make([]Payload, 0, len(paths))
	okRefs := make([]model.AttachmentRef, 0, len(paths))
	var failures []error
	for i := range paths {
		if errs[i] != nil {
			log.Warn().
				Str("component", "attach").
				Str("path", paths[i]).
				Err(errs[i]).
				Msg("attachment skipped")
			failures = append(failures, errs[i])
			continue
		}
		okPayloads = append(okPayloads, payloads[i])
		okRefs = append(okRefs, refs[i])
	}
	return okPayloads, okRefs, failures
}

// =============================================================================
// HELPERS
// =============================================================================

// detectMimeType resolves a MIME type from the file extension, falling back
// to content sniffing for unknown extensions.
func detectMimeType(name string, data []byte) string {
	if ext := filepath.Ext(name); ext != "" {
		if byExt := mime.TypeByExtension(ext); byExt != "" {
			// Strip any charset parameter.
			if i := strings.IndexByte(byExt, ';'); i >= 0 {
				byExt = byExt[:i]
			}
			return byExt
		}
	}
	return http.DetectContentType(data)
}

// previewOf returns a short text preview for text-like attachments, empty
// otherwise.
func previewOf(mimeType string, data []byte) string {
	if !strings.HasPrefix(mimeType, "text/") {
		return ""
	}
	const previewRunes = 80
	s := string(data)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > previewRunes {
		s = string(runes[:previewRunes])
	}
	return strings.TrimSpace(s)
}
