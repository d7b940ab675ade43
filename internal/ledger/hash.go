package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// GenesisPrevHash is the previous_hash of the genesis entry.
const GenesisPrevHash = "0000000000000000000000000000000000000000000000000000000000000000"

// TimestampFormat is the fixed-width UTC layout used for hashing and storage.
// Lexicographic order of formatted values equals chronological order.
const TimestampFormat = "2006-01-02T15:04:05.000000Z"

// FormatTimestamp renders t in TimestampFormat.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampFormat)
}

// ParseTimestamp parses a TimestampFormat value.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(TimestampFormat, s)
}

// Canonical returns the deterministic encoding of v: sorted keys, no
// whitespace, shortest round-trip float text.
func (v Value) Canonical() []byte {
	var buf bytes.Buffer
	v.writeCanonical(&buf)
	return buf.Bytes()
}

func (v Value) writeCanonical(buf *bytes.Buffer) {
	switch v.kind {
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		buf.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		buf.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		writeString(buf, v.s)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.list {
			if i > 0 {
				buf.WriteByte(',')
			}
			item.writeCanonical(buf)
		}
		buf.WriteByte(']')
	case KindMap:
		buf.WriteByte('{')
		for i, k := range v.Keys() {
			if i > 0 {
				buf.WriteByte(',')
			}
			writeString(buf, k)
			buf.WriteByte(':')
			v.m[k].writeCanonical(buf)
		}
		buf.WriteByte('}')
	default:
		buf.WriteString("null")
	}
}

func writeString(buf *bytes.Buffer, s string) {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	// Encoding a string cannot fail.
	_ = enc.Encode(s)
	// Encode appends a newline.
	buf.Truncate(buf.Len() - 1)
}

// hashedFields returns the document covered by entry_hash: every entry field
// except entry_hash itself.
func hashedFields(e *Entry) Value {
	supersedes := Null()
	if e.Supersedes != nil {
		supersedes = String(e.Supersedes.String())
	}
	return Value{kind: KindMap, m: map[string]Value{
		"id":                    String(e.ID.String()),
		"sequence_number":       Int(e.Sequence),
		"previous_hash":         String(e.PreviousHash),
		"timestamp":             String(FormatTimestamp(e.Timestamp)),
		"entry_type":            String(e.EntryType),
		"author_role":           String(e.AuthorRole),
		"author_member_id":      String(e.AuthorMemberID),
		"content":               e.Content,
		"supersedes":            supersedes,
		"emergency_designation": Bool(e.Emergency),
	}}
}

// CanonicalBytes returns the canonical serialization of e without its
// entry_hash.
func CanonicalBytes(e *Entry) []byte {
	return hashedFields(e).Canonical()
}

// ComputeHash returns hex(sha256(previous_hash || canonical(e))). EntryHash
// is ignored, so the result can be compared with the stored value.
func ComputeHash(e *Entry) string {
	h := sha256.New()
	h.Write([]byte(e.PreviousHash))
	h.Write(CanonicalBytes(e))
	return hex.EncodeToString(h.Sum(nil))
}

// shortHash truncates a digest for messages and listings.
func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16] + "..."
}

// ShortID renders the first block of a UUID.
func ShortID(id uuid.UUID) string {
	return id.String()[:8]
}
