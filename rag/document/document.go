package document

import (
	"crypto/sha1"
	"encoding/hex"
	"strings"
)

// Well-known metadata keys written by the corpus builder.
const (
	KeySource      = "source"
	KeyDocType     = "doc_type"
	KeyChunkID     = "chunk_id"
	KeyCompanyCode = "company_code"
	KeyCompanyName = "company_name"
	KeyYear        = "year"
	KeyCategory    = "category"
	KeyIndicator   = "indicator"
	KeySubField    = "sub_field"
	KeyField       = "field"
	KeyValueText   = "value_text"
	KeyValueNum    = "value_num"
	KeyTitle       = "title"
	KeyURL         = "url"
	KeyImageURL    = "image_url"
	KeySentiment   = "sentiment"
	KeyKeyword     = "keyword"
	KeyArticleID   = "article_id"
	KeyChunkIndex  = "chunk_index"
)

// UnknownSource labels passages whose metadata carries no source.
const UnknownSource = "未知來源"

// Metadata maps a metadata key to its scalar value.
type Metadata map[string]Value

// Get returns the value stored under key, or null.
func (m Metadata) Get(key string) Value {
	if m == nil {
		return Null()
	}
	return m[key]
}

// Text returns the trimmed string rendering of key.
func (m Metadata) Text(key string) string {
	return strings.TrimSpace(m.Get(key).String())
}

// Clone returns a shallow copy; values are immutable so this is a deep copy.
func (m Metadata) Clone() Metadata {
	if m == nil {
		return nil
	}
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// MetadataFromMap converts decoded metadata into typed values.
func MetadataFromMap(src map[string]any) Metadata {
	out := make(Metadata, len(src))
	for k, v := range src {
		out[k] = Of(v)
	}
	return out
}

// Passage is one retrieved chunk of corpus text. The core never mutates it.
type Passage struct {
	Content  string   `json:"content"`
	Metadata Metadata `json:"metadata,omitempty"`
}

// Source returns the origin identifier of the passage.
func (p Passage) Source() string {
	return p.Metadata.Text(KeySource)
}

// DocType returns the passage's doc_type.
func (p Passage) DocType() DocType {
	return DocType(p.Metadata.Text(KeyDocType))
}

// Year returns the integer year of an ESG passage.
func (p Passage) Year() (int, bool) {
	y, ok := p.Metadata.Get(KeyYear).Int()
	return int(y), ok
}

// Key identifies a logical chunk for deduplication: the source together with
// chunk_id, or with a SHA-1 of the content when chunk_id is missing.
type Key struct {
	Source string
	ID     string
}

// KeyOf derives the deduplication key of p.
func KeyOf(p Passage) Key {
	src := p.Metadata.Text(KeySource)
	if src == "" {
		src = "unknown"
	}
	if id := p.Metadata.Text(KeyChunkID); id != "" {
		return Key{Source: src, ID: id}
	}
	return Key{Source: src, ID: SHA1(p.Content)}
}

// SHA1 returns the hex SHA-1 digest of text.
func SHA1(text string) string {
	sum := sha1.Sum([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Unique drops later passages whose key was already seen. The result keeps
// first-occurrence order, so Unique(Unique(x)) == Unique(x).
func Unique(passages []Passage) []Passage {
	seen := make(map[Key]struct{}, len(passages))
	out := make([]Passage, 0, len(passages))
	for _, p := range passages {
		k := KeyOf(p)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, p)
	}
	return out
}

// Sources returns the distinct source values of passages in first-seen order.
func Sources(passages []Passage) []string {
	seen := make(map[string]struct{}, len(passages))
	out := make([]string, 0)
	for _, p := range passages {
		src := p.Source()
		if src == "" {
			src = UnknownSource
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out
}
