package syncer

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/spyglass-dev/spyglass/internal/models"
)

// ErrBudgetTooSmall means the byte budget cannot hold the chunk envelope plus
// a single character. This is a configuration error: retrying cannot succeed,
// so callers should fail loudly instead of emitting zero-progress chunks.
var ErrBudgetTooSmall = errors.New("wire byte budget too small for chunk envelope")

// ChunkText splits text into pieces whose chunk envelopes each serialize to
// at most budget bytes. Concatenating the pieces reproduces text exactly, and
// no piece boundary falls inside a multi-byte UTF-8 character. An empty text
// produces no chunks.
func ChunkText(streamID, text string, budget int) ([]string, error) {
	if text == "" {
		return nil, nil
	}

	var chunks []string
	for index := 0; len(text) > 0; index++ {
		avail := budget - envelopeOverhead(streamID, index)
		end := fitPrefix(text, avail)
		if end == 0 {
			return nil, fmt.Errorf("%w: budget %d", ErrBudgetTooSmall, budget)
		}
		chunks = append(chunks, text[:end])
		text = text[end:]
	}
	return chunks, nil
}

// envelopeOverhead measures the serialized chunk envelope with an empty
// payload. Final is set to false, the wider of the two encodings, so the
// overhead never undercounts.
func envelopeOverhead(streamID string, index int) int {
	raw, err := json.Marshal(models.ChunkMessage{
		Type:     models.MsgTypeChunk,
		StreamID: streamID,
		Index:    index,
		Final:    false,
		Data:     "",
	})
	if err != nil {
		// Marshaling a plain struct of strings and ints cannot fail.
		panic(err)
	}
	return len(raw)
}

// fitPrefix returns the byte length of the longest prefix of text whose
// JSON string encoding fits in avail bytes. The prefix always ends on a
// rune boundary.
func fitPrefix(text string, avail int) int {
	var used, end int
	for end < len(text) {
		r, size := utf8.DecodeRuneInString(text[end:])
		used += jsonEscapedLen(r, size)
		if used > avail {
			break
		}
		end += size
	}
	return end
}

// jsonEscapedLen returns the number of bytes a rune occupies inside a JSON
// string produced by encoding/json. size is the rune's UTF-8 width in the
// source text, used for invalid bytes which the encoder replaces with the
// three-byte replacement character.
func jsonEscapedLen(r rune, size int) int {
	switch r {
	case '"', '\\', '\n', '\r', '\t':
		return 2
	case '<', '>', '&', '\u2028', '\u2029':
		// encoding/json HTML-escapes these to \u00XX / \u20XX
		return 6
	case utf8.RuneError:
		if size == 1 {
			return 3 // invalid byte becomes U+FFFD
		}
	}
	if r < 0x20 {
		return 6
	}
	return utf8.RuneLen(r)
}

// ChunkProjects greedily packs whole project groups into chunks so that each
// chunk's projects message serializes to at most budget bytes. Elements are
// atomic: a single group larger than the budget is emitted alone, unsplit,
// and oversizing is left to the text chunker on the serialized message.
// Order is preserved and no group is duplicated or dropped.
func ChunkProjects(groups []models.ProjectGroup, budget int) [][]models.ProjectGroup {
	if len(groups) == 0 {
		return nil
	}

	base, err := json.Marshal(models.ProjectsMessage{Type: models.MsgTypeProjects, Projects: []models.ProjectGroup{}})
	if err != nil {
		panic(err)
	}
	overhead := len(base)

	var (
		chunks  [][]models.ProjectGroup
		current []models.ProjectGroup
		used    int
	)
	for _, group := range groups {
		raw, err := json.Marshal(group)
		if err != nil {
			panic(err)
		}
		cost := len(raw) + 1 // separating comma

		if len(current) > 0 && overhead+used+cost > budget {
			chunks = append(chunks, current)
			current = nil
			used = 0
		}
		current = append(current, group)
		used += cost
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}
