package generic

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
)

// Parsing errors.
var (
	ErrInvalidObject     = errors.New("invalid PDF object")
	ErrInvalidDictionary = errors.New("invalid PDF dictionary")
	ErrInvalidArray      = errors.New("invalid PDF array")
	ErrInvalidString     = errors.New("invalid PDF string")
	ErrInvalidName       = errors.New("invalid PDF name")
	ErrInvalidNumber     = errors.New("invalid PDF number")
)

// Parser parses PDF objects from an in-memory buffer.
type Parser struct {
	data []byte
	pos  int
}

// NewParser creates a parser over data.
func NewParser(data []byte) *Parser {
	return &Parser{data: data}
}

// NewParserAt creates a parser over data positioned at offset.
func NewParserAt(data []byte, offset int) *Parser {
	return &Parser{data: data, pos: offset}
}

// Pos returns the current parse position.
func (p *Parser) Pos() int {
	return p.pos
}

func (p *Parser) readByte() (byte, error) {
	if p.pos >= len(p.data) {
		return 0, io.EOF
	}
	b := p.data[p.pos]
	p.pos++
	return b, nil
}

func (p *Parser) unreadByte() {
	if p.pos > 0 {
		p.pos--
	}
}

func (p *Parser) peekByte() (byte, error) {
	if p.pos >= len(p.data) {
		return 0, io.EOF
	}
	return p.data[p.pos], nil
}

// skipWhitespace skips whitespace and comments.
func (p *Parser) skipWhitespace() {
	for {
		b, err := p.readByte()
		if err != nil {
			return
		}

		switch b {
		case ' ', '\t', '\n', '\r', '\x00', '\x0c':
			continue
		case '%':
			// Comment runs to end of line.
			for {
				c, err := p.readByte()
				if err != nil {
					return
				}
				if c == '\n' || c == '\r' {
					break
				}
			}
		default:
			p.unreadByte()
			return
		}
	}
}

// isWhitespace returns true if the byte is PDF whitespace.
func isWhitespace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\x00' || b == '\x0c'
}

// isDelimiter returns true if the byte is a PDF delimiter.
func isDelimiter(b byte) bool {
	return b == '(' || b == ')' || b == '<' || b == '>' ||
		b == '[' || b == ']' || b == '{' || b == '}' ||
		b == '/' || b == '%'
}

// readToken reads a run of non-whitespace, non-delimiter characters.
func (p *Parser) readToken() string {
	p.skipWhitespace()

	var buf bytes.Buffer
	for {
		b, err := p.readByte()
		if err != nil {
			break
		}

		if isWhitespace(b) || isDelimiter(b) {
			p.unreadByte()
			break
		}
		buf.WriteByte(b)
	}

	return buf.String()
}

// ParseObject parses a direct PDF object at the current position.
func (p *Parser) ParseObject() (PdfObject, error) {
	p.skipWhitespace()

	b, err := p.peekByte()
	if err != nil {
		return nil, fmt.Errorf("%w: unexpected end of input", ErrInvalidObject)
	}

	switch b {
	case '(':
		return p.parseString()
	case '<':
		return p.parseHexOrDict()
	case '[':
		return p.parseArray()
	case '/':
		return p.parseName()
	case 't', 'f':
		return p.parseBoolean()
	case 'n':
		return p.parseNull()
	default:
		if b == '-' || b == '+' || b == '.' || (b >= '0' && b <= '9') {
			return p.parseNumber()
		}
		return nil, fmt.Errorf("%w: unexpected character '%c'", ErrInvalidObject, b)
	}
}

// parseString parses a literal string.
func (p *Parser) parseString() (*StringObject, error) {
	b, err := p.readByte()
	if err != nil || b != '(' {
		return nil, ErrInvalidString
	}

	var buf bytes.Buffer
	depth := 1

	for depth > 0 {
		b, err := p.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated string", ErrInvalidString)
		}

		switch b {
		case '(':
			depth++
			buf.WriteByte(b)
		case ')':
			depth--
			if depth > 0 {
				buf.WriteByte(b)
			}
		case '\\':
			escaped, err := p.readByte()
			if err != nil {
				return nil, fmt.Errorf("%w: unterminated escape", ErrInvalidString)
			}
			switch escaped {
			case 'n':
				buf.WriteByte('\n')
			case 'r':
				buf.WriteByte('\r')
			case 't':
				buf.WriteByte('\t')
			case 'b':
				buf.WriteByte('\b')
			case 'f':
				buf.WriteByte('\f')
			case '(', ')', '\\':
				buf.WriteByte(escaped)
			case '\r':
				// Line continuation.
				if next, err := p.peekByte(); err == nil && next == '\n' {
					p.readByte()
				}
			case '\n':
				// Line continuation.
			default:
				if escaped >= '0' && escaped <= '7' {
					octal := string(escaped)
					for i := 0; i < 2; i++ {
						next, err := p.peekByte()
						if err != nil || next < '0' || next > '7' {
							break
						}
						p.readByte()
						octal += string(next)
					}
					val, _ := strconv.ParseInt(octal, 8, 16)
					buf.WriteByte(byte(val))
				} else {
					buf.WriteByte(escaped)
				}
			}
		default:
			buf.WriteByte(b)
		}
	}

	return &StringObject{Value: buf.Bytes()}, nil
}

// parseHexOrDict parses a hex string or dictionary.
func (p *Parser) parseHexOrDict() (PdfObject, error) {
	first, err := p.readByte()
	if err != nil || first != '<' {
		return nil, fmt.Errorf("%w: expected '<'", ErrInvalidObject)
	}

	second, err := p.peekByte()
	if err != nil {
		return nil, fmt.Errorf("%w: unexpected end of input", ErrInvalidObject)
	}

	if second == '<' {
		p.readByte()
		return p.parseDictionary()
	}

	return p.parseHexString()
}

// parseHexString parses a hexadecimal string ('<' already consumed).
func (p *Parser) parseHexString() (*StringObject, error) {
	var buf bytes.Buffer

	for {
		b, err := p.readByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated hex string", ErrInvalidString)
		}

		if b == '>' {
			break
		}

		if isWhitespace(b) {
			continue
		}

		buf.WriteByte(b)
	}

	hexStr := buf.String()
	if len(hexStr)%2 != 0 {
		hexStr += "0"
	}

	data, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid hex string: %v", ErrInvalidString, err)
	}

	return &StringObject{Value: data, IsHex: true}, nil
}

// parseDictionary parses a dictionary ('<<' already consumed).
func (p *Parser) parseDictionary() (*DictionaryObject, error) {
	dict := NewDictionary()

	for {
		p.skipWhitespace()

		b, err := p.peekByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrInvalidDictionary)
		}

		if b == '>' {
			p.readByte()
			next, err := p.readByte()
			if err != nil || next != '>' {
				return nil, fmt.Errorf("%w: expected '>>'", ErrInvalidDictionary)
			}
			break
		}

		key, err := p.parseName()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid dictionary key: %v", ErrInvalidDictionary, err)
		}

		value, err := p.ParseObjectOrReference()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid value for key '%s': %v", ErrInvalidDictionary, key, err)
		}

		dict.Set(string(key), value)
	}

	return dict, nil
}

// parseArray parses an array.
func (p *Parser) parseArray() (ArrayObject, error) {
	b, err := p.readByte()
	if err != nil || b != '[' {
		return nil, ErrInvalidArray
	}

	var arr ArrayObject

	for {
		p.skipWhitespace()

		b, err := p.peekByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated array", ErrInvalidArray)
		}

		if b == ']' {
			p.readByte()
			break
		}

		obj, err := p.ParseObjectOrReference()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid array element: %v", ErrInvalidArray, err)
		}

		arr = append(arr, obj)
	}

	return arr, nil
}

// parseName parses a name object.
func (p *Parser) parseName() (NameObject, error) {
	b, err := p.readByte()
	if err != nil || b != '/' {
		return "", ErrInvalidName
	}

	var buf bytes.Buffer

	for {
		b, err := p.readByte()
		if err != nil {
			break
		}

		if isWhitespace(b) || isDelimiter(b) {
			p.unreadByte()
			break
		}

		if b == '#' {
			hex1, err1 := p.readByte()
			hex2, err2 := p.readByte()
			if err1 != nil || err2 != nil {
				return "", fmt.Errorf("%w: truncated hex escape", ErrInvalidName)
			}
			val, err := strconv.ParseInt(string([]byte{hex1, hex2}), 16, 16)
			if err != nil {
				return "", fmt.Errorf("%w: invalid hex escape", ErrInvalidName)
			}
			buf.WriteByte(byte(val))
		} else {
			buf.WriteByte(b)
		}
	}

	return NameObject(buf.String()), nil
}

// parseBoolean parses a boolean.
func (p *Parser) parseBoolean() (BooleanObject, error) {
	token := p.readToken()

	switch token {
	case "true":
		return BooleanObject(true), nil
	case "false":
		return BooleanObject(false), nil
	default:
		return false, fmt.Errorf("%w: expected 'true' or 'false', got '%s'", ErrInvalidObject, token)
	}
}

// parseNull parses a null object.
func (p *Parser) parseNull() (NullObject, error) {
	token := p.readToken()
	if token != "null" {
		return NullObject{}, fmt.Errorf("%w: expected 'null', got '%s'", ErrInvalidObject, token)
	}
	return NullObject{}, nil
}

// parseNumber parses an integer or real.
func (p *Parser) parseNumber() (PdfObject, error) {
	var buf bytes.Buffer
	hasDecimal := false

	for {
		b, err := p.readByte()
		if err != nil {
			break
		}

		if b == '.' {
			if hasDecimal {
				p.unreadByte()
				break
			}
			hasDecimal = true
			buf.WriteByte(b)
		} else if b == '-' || b == '+' {
			if buf.Len() > 0 {
				p.unreadByte()
				break
			}
			buf.WriteByte(b)
		} else if b >= '0' && b <= '9' {
			buf.WriteByte(b)
		} else {
			p.unreadByte()
			break
		}
	}

	str := buf.String()
	if str == "" || str == "-" || str == "+" || str == "." {
		return nil, fmt.Errorf("%w: invalid number '%s'", ErrInvalidNumber, str)
	}

	if hasDecimal {
		val, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
		}
		return RealObject(val), nil
	}

	val, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNumber, err)
	}
	return IntegerObject(val), nil
}

// ParseObjectOrReference parses an object, recognizing "n g R" indirect
// references. A bare number followed by something that is not a reference
// backtracks and returns just the number.
func (p *Parser) ParseObjectOrReference() (PdfObject, error) {
	p.skipWhitespace()

	startPos := p.pos

	b, err := p.peekByte()
	if err != nil {
		return nil, fmt.Errorf("%w: unexpected end of input", ErrInvalidObject)
	}

	if b >= '0' && b <= '9' {
		obj, err := p.parseNumber()
		if err != nil {
			return nil, err
		}

		objNum, ok := obj.(IntegerObject)
		if !ok {
			return obj, nil
		}

		p.skipWhitespace()

		b, err = p.peekByte()
		if err != nil || b < '0' || b > '9' {
			p.pos = startPos
			return p.parseNumber()
		}

		genObj, err := p.parseNumber()
		if err != nil {
			p.pos = startPos
			return p.parseNumber()
		}

		genNum, ok := genObj.(IntegerObject)
		if !ok {
			p.pos = startPos
			return p.parseNumber()
		}

		p.skipWhitespace()

		b, err = p.readByte()
		if err == nil && b == 'R' {
			return NewReference(int(objNum), int(genNum)), nil
		}

		p.pos = startPos
		return p.parseNumber()
	}

	return p.ParseObject()
}

// ParseIndirectObject parses a full "n g obj ... endobj" definition.
// Stream data is read using the direct Length entry.
func (p *Parser) ParseIndirectObject() (*IndirectObject, error) {
	p.skipWhitespace()

	objNumObj, err := p.parseNumber()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid object number: %v", ErrInvalidObject, err)
	}
	objNum, ok := objNumObj.(IntegerObject)
	if !ok {
		return nil, fmt.Errorf("%w: object number must be an integer", ErrInvalidObject)
	}

	p.skipWhitespace()

	genNumObj, err := p.parseNumber()
	if err != nil {
		return nil, fmt.Errorf("%w: invalid generation number: %v", ErrInvalidObject, err)
	}
	genNum, ok := genNumObj.(IntegerObject)
	if !ok {
		return nil, fmt.Errorf("%w: generation number must be an integer", ErrInvalidObject)
	}

	if token := p.readToken(); token != "obj" {
		return nil, fmt.Errorf("%w: expected 'obj', got '%s'", ErrInvalidObject, token)
	}

	obj, err := p.ParseObjectOrReference()
	if err != nil {
		return nil, err
	}

	p.skipWhitespace()

	if dict, ok := obj.(*DictionaryObject); ok {
		if b, err := p.peekByte(); err == nil && b == 's' {
			savePos := p.pos
			if token := p.readToken(); token == "stream" {
				b, _ := p.readByte()
				if b == '\r' {
					if next, err := p.peekByte(); err == nil && next == '\n' {
						p.readByte()
					}
				}

				length := int64(0)
				if l, ok := dict.GetInt("Length"); ok {
					length = l
				}
				if int(length) > len(p.data)-p.pos {
					return nil, fmt.Errorf("%w: stream length exceeds input", ErrInvalidObject)
				}

				data := make([]byte, length)
				copy(data, p.data[p.pos:p.pos+int(length)])
				p.pos += int(length)

				p.skipWhitespace()
				if token := p.readToken(); token != "endstream" {
					return nil, fmt.Errorf("%w: expected 'endstream', got '%s'", ErrInvalidObject, token)
				}

				obj = NewStream(dict, data)
			} else {
				p.pos = savePos
			}
		}
	}

	p.skipWhitespace()

	// Some writers omit endobj; tolerate its absence at end of input.
	savePos := p.pos
	if token := p.readToken(); token != "endobj" && token != "" {
		p.pos = savePos
	}

	id := ObjectID{Number: int(objNum), Generation: int(genNum)}
	return NewIndirectObject(id, obj), nil
}
