package ttspipeline

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"io"

	apperrors "github.com/JamesABrownlee/tts-bot/pkg/errors"
)

// maxPrefixBuffer bounds how much of the primary provider's response
// we buffer while hunting for the "data" field. A fixed constant per
// spec.md §9's open-question resolution: overflow always fails with
// ParseError, no partial-recovery attempted.
const maxPrefixBuffer = 64 * 1024

// findDataStart scans buf for `"data":` and reports where the base64
// value begins. It returns -2 while the key/colon/value is not yet
// fully present (caller should keep buffering), -1 if the value is
// the JSON literal null, or the index just after the opening quote.
func findDataStart(buf []byte) int {
	const key = `"data"`
	keyIdx := bytes.Index(buf, []byte(key))
	if keyIdx < 0 {
		return -2
	}

	i := keyIdx + len(key)
	n := len(buf)
	for i < n && isJSONSpace(buf[i]) {
		i++
	}
	if i >= n || buf[i] != ':' {
		return -2
	}
	i++
	for i < n && isJSONSpace(buf[i]) {
		i++
	}
	if i >= n {
		return -2
	}
	if buf[i] == 'n' {
		if i+4 <= n && string(buf[i:i+4]) == "null" {
			return -1
		}
		return -2
	}
	if buf[i] != '"' {
		return -2
	}
	return i + 1
}

func isJSONSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n'
}

// decodePrimaryBody streams the primary provider's minified
// `{..., "data":"<base64>"}` response, writing decoded MP3 bytes to w
// as base64 quanta complete. See SPEC_FULL.md / §4.2 for the exact
// algorithm this ports from original_source/utils/tts_pipeline.py.
func decodePrimaryBody(r io.Reader, voiceID string, w io.Writer) error {
	var prefix []byte
	var b64buf []byte
	sawData := false
	fedAny := false
	readBuf := make([]byte, 4096)

	feedDecoded := func(b []byte) error {
		if len(b) == 0 {
			return nil
		}
		fedAny = true
		_, err := w.Write(b)
		return err
	}

	consumeB64Bytes := func(data []byte) (bool, error) {
		if idx := bytes.IndexByte(data, '"'); idx != -1 {
			b64buf = append(b64buf, data[:idx]...)
			decoded, decErr := base64.StdEncoding.DecodeString(string(b64buf))
			if decErr != nil {
				return false, apperrors.NewErrDecodeError(voiceID, decErr)
			}
			if err := feedDecoded(decoded); err != nil {
				return false, err
			}
			b64buf = b64buf[:0]
			return true, nil
		}

		b64buf = append(b64buf, data...)
		decodeLen := (len(b64buf) / 4) * 4
		if decodeLen >= 4 {
			chunk := append([]byte{}, b64buf[:decodeLen]...)
			b64buf = append([]byte{}, b64buf[decodeLen:]...)
			decoded, decErr := base64.StdEncoding.DecodeString(string(chunk))
			if decErr != nil {
				return false, apperrors.NewErrDecodeError(voiceID, decErr)
			}
			if err := feedDecoded(decoded); err != nil {
				return false, err
			}
		}
		return false, nil
	}

readLoop:
	for {
		n, readErr := r.Read(readBuf)
		if n > 0 {
			chunk := append([]byte{}, readBuf[:n]...)
			if !sawData {
				prefix = append(prefix, chunk...)
				if len(prefix) > maxPrefixBuffer {
					return apperrors.NewErrParseError(voiceID)
				}
				switch start := findDataStart(prefix); start {
				case -2:
					// Key/value not fully buffered yet; keep reading.
				case -1:
					return apperrors.NewErrNullAudio(voiceID)
				default:
					sawData = true
					rest := append([]byte{}, prefix[start:]...)
					prefix = nil
					done, err := consumeB64Bytes(rest)
					if err != nil {
						return err
					}
					if done {
						break readLoop
					}
				}
			} else {
				done, err := consumeB64Bytes(chunk)
				if err != nil {
					return err
				}
				if done {
					break readLoop
				}
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return readErr
		}
	}

	if !sawData {
		// Small error bodies are fine to parse in full.
		var payload map[string]any
		if json.Unmarshal(prefix, &payload) == nil {
			if _, ok := payload["error"]; ok {
				return apperrors.NewErrParseError(voiceID)
			}
			if _, ok := payload["message"]; ok {
				return apperrors.NewErrParseError(voiceID)
			}
		}
		return apperrors.NewErrParseError(voiceID)
	}

	if len(b64buf) > 0 {
		decoded, decErr := base64.StdEncoding.DecodeString(string(b64buf))
		if decErr != nil {
			return apperrors.NewErrDecodeError(voiceID, decErr)
		}
		if err := feedDecoded(decoded); err != nil {
			return err
		}
	}

	if !fedAny {
		return apperrors.NewErrParseError(voiceID)
	}
	return nil
}
