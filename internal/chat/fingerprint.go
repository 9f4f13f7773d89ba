package chat

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
)

// EmptyFingerprint is served for an account with no conversation.
var EmptyFingerprint = quote(digest("empty"))

// Fingerprint derives the history ETag from conversation id, last-modified
// time and message count. Changing any of the three changes the result.
func Fingerprint(st *ConversationState) string {
	if st == nil || st.ConversationID == 0 {
		return EmptyFingerprint
	}
	raw := strconv.FormatInt(st.ConversationID, 10) + "|" +
		strconv.FormatInt(st.UpdatedAt.UnixNano(), 10) + "|" +
		strconv.Itoa(st.MessageCount)
	return quote(digest(raw))
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:16])
}

func quote(s string) string {
	return `"` + s + `"`
}

// MatchesIfNoneMatch reports whether an If-None-Match header value names
// etag. Weak validators compare equal to their strong form.
func MatchesIfNoneMatch(header, etag string) bool {
	header = strings.TrimSpace(header)
	if header == "" || etag == "" {
		return false
	}
	if header == "*" {
		return true
	}
	want := strings.TrimPrefix(etag, "W/")
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimPrefix(strings.TrimSpace(candidate), "W/")
		if candidate == want {
			return true
		}
	}
	return false
}
