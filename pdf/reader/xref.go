package reader

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aruthen/pdfsign/pdf/generic"
)

// XRefEntry locates one indirect object in the file.
type XRefEntry struct {
	Offset     int64
	Generation int
	InUse      bool
}

// xrefSection is one parsed cross-reference table together with its trailer.
type xrefSection struct {
	entries map[int]XRefEntry
	trailer *generic.DictionaryObject
}

// parseXRefSection parses a classic cross-reference table starting at offset.
// Cross-reference streams (PDF 1.5+) start with an indirect object instead
// of the "xref" keyword and are reported as unsupported.
func parseXRefSection(data []byte, offset int64) (*xrefSection, error) {
	if offset < 0 || offset >= int64(len(data)) {
		return nil, fmt.Errorf("%w: xref offset %d out of bounds", ErrInvalidDocument, offset)
	}

	pos := skipSpaceAndEOL(data, int(offset))
	tok, pos := readToken(data, pos)
	if tok != "xref" {
		if _, err := strconv.Atoi(tok); err == nil {
			// "n g obj" at the xref offset means a cross-reference stream.
			return nil, ErrUnsupportedXRef
		}
		return nil, fmt.Errorf("%w: expected 'xref' at offset %d, got '%s'", ErrInvalidDocument, offset, tok)
	}

	section := &xrefSection{entries: make(map[int]XRefEntry)}

	for {
		pos = skipSpaceAndEOL(data, pos)
		if pos >= len(data) {
			return nil, fmt.Errorf("%w: truncated xref table", ErrInvalidDocument)
		}

		line := readLine(data, pos)
		if strings.TrimSpace(line) == "trailer" {
			pos += len(line)
			break
		}

		parts := strings.Fields(line)
		if len(parts) != 2 {
			return nil, fmt.Errorf("%w: malformed xref subsection header '%s'", ErrInvalidDocument, strings.TrimSpace(line))
		}
		startObj, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("%w: bad subsection start: %v", ErrInvalidDocument, err)
		}
		count, err := strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("%w: bad subsection count: %v", ErrInvalidDocument, err)
		}
		pos += len(line)
		pos = skipSpaceAndEOL(data, pos)

		// Entries are fixed 20-byte records.
		for i := 0; i < count; i++ {
			if pos+20 > len(data) {
				return nil, fmt.Errorf("%w: truncated xref entry", ErrInvalidDocument)
			}
			entry := string(data[pos : pos+20])
			pos += 20

			fields := strings.Fields(entry)
			if len(fields) < 3 {
				return nil, fmt.Errorf("%w: malformed xref entry '%s'", ErrInvalidDocument, strings.TrimSpace(entry))
			}

			off, err := strconv.ParseInt(fields[0], 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad xref offset: %v", ErrInvalidDocument, err)
			}
			gen, err := strconv.Atoi(fields[1])
			if err != nil {
				return nil, fmt.Errorf("%w: bad xref generation: %v", ErrInvalidDocument, err)
			}

			objNum := startObj + i
			if _, seen := section.entries[objNum]; !seen {
				section.entries[objNum] = XRefEntry{
					Offset:     off,
					Generation: gen,
					InUse:      fields[2] == "n",
				}
			}
		}
	}

	tp := generic.NewParserAt(data, pos)
	trailerObj, err := tp.ParseObject()
	if err != nil {
		return nil, fmt.Errorf("%w: bad trailer: %v", ErrInvalidDocument, err)
	}
	trailer, ok := trailerObj.(*generic.DictionaryObject)
	if !ok {
		return nil, fmt.Errorf("%w: trailer is not a dictionary", ErrInvalidDocument)
	}
	section.trailer = trailer

	return section, nil
}

// readToken reads a run of non-whitespace bytes starting at pos and returns
// it with the position after the token.
func readToken(data []byte, pos int) (string, int) {
	start := pos
	for pos < len(data) {
		switch data[pos] {
		case ' ', '\t', '\r', '\n':
			return string(data[start:pos]), pos
		}
		pos++
	}
	return string(data[start:pos]), pos
}

// skipSpaceAndEOL skips spaces, CR and LF starting at pos.
func skipSpaceAndEOL(data []byte, pos int) int {
	for pos < len(data) {
		switch data[pos] {
		case ' ', '\t', '\r', '\n':
			pos++
		default:
			return pos
		}
	}
	return pos
}

// readLine returns data from pos through the line terminator (inclusive).
func readLine(data []byte, pos int) string {
	start := pos
	for pos < len(data) {
		b := data[pos]
		pos++
		if b == '\n' {
			break
		}
		if b == '\r' {
			if pos < len(data) && data[pos] == '\n' {
				pos++
			}
			break
		}
	}
	return string(data[start:pos])
}
