// Package record implements the on-disk framing of queued events.
//
// A stored record is the compact JSON object followed by a TAB and the
// decimal integrity tag of that object:
//
//	{"event":"$AppStart","time":1700000000000}\t2857341950
//
// The tag is checksum version 1: murmur3 x86_32 with seed 0 over the UTF-8
// bytes of the content. Compact JSON never contains a raw TAB (tabs inside
// strings are escaped), so the last TAB always delimits the tag. Values with no
// TAB at all are legacy records and are accepted without verification.
package record

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/spaolacci/murmur3"

	qerrors "github.com/bovink/sa-sdk-android/internal/errors"
)

// Separator delimits content from its integrity tag.
const Separator = '\t'

// ChecksumVersion identifies the checksum function written by Encode.
const ChecksumVersion = 1

// FlushTimeField is injected into every exported event.
const FlushTimeField = "_flush_time"

// Checksum returns the integrity tag of content.
func Checksum(content string) string {
	return strconv.FormatUint(uint64(murmur3.Sum32([]byte(content))), 10)
}

// Normalize validates that payload is a single JSON object and returns its
// compact form.
func Normalize(payload []byte) (string, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return "", qerrors.NewValidationError(qerrors.CodeInvalidPayload, "payload must be a JSON object")
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, trimmed); err != nil {
		return "", qerrors.Wrap(qerrors.ErrCategoryValidation, qerrors.CodeInvalidPayload, "payload is not valid JSON", err)
	}
	return buf.String(), nil
}

// Encode frames compact JSON content for storage.
func Encode(content string) string {
	return content + string(Separator) + Checksum(content)
}

// Decoded is the result of splitting a stored value.
type Decoded struct {
	Content string
	Tag     string
	Legacy  bool // no separator was present
}

// Decode splits a stored value on its last separator and verifies the tag.
// A missing separator yields a legacy record. A present but empty or
// mismatching tag yields a CHECKSUM_MISMATCH error.
func Decode(stored string) (Decoded, error) {
	if stored == "" {
		return Decoded{}, qerrors.NewCorruptionError(qerrors.CodeMalformedRecord, "empty record")
	}

	idx := strings.LastIndexByte(stored, Separator)
	if idx < 0 {
		return Decoded{Content: stored, Legacy: true}, nil
	}

	content, tag := stored[:idx], stored[idx+1:]
	if content == "" || tag == "" || tag != Checksum(content) {
		return Decoded{Content: content, Tag: tag}, qerrors.NewCorruptionError(qerrors.CodeChecksumMismatch, "integrity tag mismatch")
	}
	return Decoded{Content: content, Tag: tag}, nil
}

// AppendFlushTime writes content to dst with the flush time field added
// before the closing brace. Content must be a valid JSON object; dst is
// returned unchanged otherwise.
func AppendFlushTime(dst []byte, content string, flushTimeMs int64) ([]byte, error) {
	body := strings.TrimRight(content, " \t\r\n")
	if len(body) < 2 || body[0] != '{' || body[len(body)-1] != '}' {
		return dst, qerrors.NewCorruptionError(qerrors.CodeMalformedRecord, "record content is not a JSON object")
	}
	if !json.Valid([]byte(body)) {
		return dst, qerrors.NewCorruptionError(qerrors.CodeMalformedRecord, "record content is not valid JSON")
	}

	inner := strings.TrimSpace(body[1 : len(body)-1])
	dst = append(dst, body[:len(body)-1]...)
	if inner != "" {
		dst = append(dst, ',')
	}
	dst = append(dst, '"')
	dst = append(dst, FlushTimeField...)
	dst = append(dst, '"', ':')
	dst = strconv.AppendInt(dst, flushTimeMs, 10)
	dst = append(dst, '}')
	return dst, nil
}
