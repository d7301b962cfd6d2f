package generic

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"
)

var (
	ErrInvalidObject     = errors.New("invalid PDF object")
	ErrInvalidStream     = errors.New("invalid PDF stream")
	ErrInvalidDictionary = errors.New("invalid PDF dictionary")
	ErrInvalidArray      = errors.New("invalid PDF array")
	ErrInvalidString     = errors.New("invalid PDF string")
	ErrInvalidName       = errors.New("invalid PDF name")
	ErrInvalidNumber     = errors.New("invalid PDF number")
)

// LengthResolver resolves an indirect stream /Length.
type LengthResolver func(ref Reference) (int64, bool)

// Parser reads PDF objects from an in-memory buffer.
type Parser struct {
	data []byte
	pos  int64

	// ResolveLength is consulted when a stream's /Length is an indirect
	// reference. Without it, or when the length is wrong, the parser
	// falls back to scanning for "endstream".
	ResolveLength LengthResolver
}

// NewParserFromBytes creates a parser positioned at the start of data.
func NewParserFromBytes(data []byte) *Parser {
	return &Parser{data: data}
}

// NewParserAt creates a parser positioned at offset.
func NewParserAt(data []byte, offset int64) *Parser {
	return &Parser{data: data, pos: offset}
}

// Pos returns the current offset.
func (p *Parser) Pos() int64 { return p.pos }

// SetPos moves the parser to offset.
func (p *Parser) SetPos(offset int64) { p.pos = offset }

func (p *Parser) readByte() (byte, error) {
	if p.pos >= int64(len(p.data)) {
		return 0, io.EOF
	}
	b := p.data[p.pos]
	p.pos++
	return b, nil
}

func (p *Parser) peekByte() (byte, error) {
	if p.pos >= int64(len(p.data)) {
		return 0, io.EOF
	}
	return p.data[p.pos], nil
}

// SkipWhitespace skips whitespace and comments.
func (p *Parser) SkipWhitespace() {
	for p.pos < int64(len(p.data)) {
		b := p.data[p.pos]
		switch {
		case IsWhitespace(b):
			p.pos++
		case b == '%':
			for p.pos < int64(len(p.data)) && p.data[p.pos] != '\n' && p.data[p.pos] != '\r' {
				p.pos++
			}
		default:
			return
		}
	}
}

// ReadToken reads a run of regular characters after skipping whitespace.
func (p *Parser) ReadToken() string {
	p.SkipWhitespace()
	start := p.pos
	for p.pos < int64(len(p.data)) {
		b := p.data[p.pos]
		if IsWhitespace(b) || IsDelimiter(b) {
			break
		}
		p.pos++
	}
	return string(p.data[start:p.pos])
}

// ParseObject parses a direct object. Bare integers are never combined
// into references; use ParseObjectOrReference for that.
func (p *Parser) ParseObject() (PdfObject, error) {
	p.SkipWhitespace()

	b, err := p.peekByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidObject, err)
	}

	switch {
	case b == '(':
		return p.parseString()
	case b == '<':
		return p.parseHexOrDict()
	case b == '[':
		return p.parseArray()
	case b == '/':
		return p.parseName()
	case b == '-' || b == '+' || b == '.' || (b >= '0' && b <= '9'):
		return p.parseNumber()
	}

	switch token := p.ReadToken(); token {
	case "true":
		return BooleanObject(true), nil
	case "false":
		return BooleanObject(false), nil
	case "null":
		return NullObject{}, nil
	default:
		return nil, fmt.Errorf("%w: unexpected token %q at offset %d", ErrInvalidObject, token, p.pos)
	}
}

func (p *Parser) parseString() (*StringObject, error) {
	p.pos++ // '('
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
			case '\r':
				if next, err := p.peekByte(); err == nil && next == '\n' {
					p.pos++
				}
			case '\n':
			default:
				if escaped >= '0' && escaped <= '7' {
					val := int(escaped - '0')
					for i := 0; i < 2; i++ {
						next, err := p.peekByte()
						if err != nil || next < '0' || next > '7' {
							break
						}
						p.pos++
						val = val*8 + int(next-'0')
					}
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

func (p *Parser) parseHexOrDict() (PdfObject, error) {
	p.pos++ // '<'
	if next, err := p.peekByte(); err == nil && next == '<' {
		p.pos++
		return p.parseDictionary()
	}
	return p.parseHexString()
}

func (p *Parser) parseHexString() (*StringObject, error) {
	end := bytes.IndexByte(p.data[p.pos:], '>')
	if end < 0 {
		return nil, fmt.Errorf("%w: unterminated hex string", ErrInvalidString)
	}
	raw := p.data[p.pos : p.pos+int64(end)]
	p.pos += int64(end) + 1

	digits := make([]byte, 0, len(raw)+1)
	for _, b := range raw {
		if !IsWhitespace(b) {
			digits = append(digits, b)
		}
	}
	if len(digits)%2 != 0 {
		digits = append(digits, '0')
	}

	data := make([]byte, len(digits)/2)
	if _, err := hex.Decode(data, digits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidString, err)
	}
	return &StringObject{Value: data, IsHex: true}, nil
}

func (p *Parser) parseDictionary() (*DictionaryObject, error) {
	dict := NewDictionary()

	for {
		p.SkipWhitespace()
		b, err := p.peekByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated dictionary", ErrInvalidDictionary)
		}

		if b == '>' {
			p.pos++
			if next, err := p.readByte(); err != nil || next != '>' {
				return nil, fmt.Errorf("%w: expected '>>'", ErrInvalidDictionary)
			}
			return dict, nil
		}

		key, err := p.parseName()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid key: %v", ErrInvalidDictionary, err)
		}

		value, err := p.ParseObjectOrReference()
		if err != nil {
			return nil, fmt.Errorf("%w: invalid value for /%s: %v", ErrInvalidDictionary, key, err)
		}

		// A null value is equivalent to an absent entry.
		if _, isNull := value.(NullObject); isNull {
			continue
		}
		dict.Set(string(key), value)
	}
}

func (p *Parser) parseArray() (ArrayObject, error) {
	p.pos++ // '['
	arr := ArrayObject{}

	for {
		p.SkipWhitespace()
		b, err := p.peekByte()
		if err != nil {
			return nil, fmt.Errorf("%w: unterminated array", ErrInvalidArray)
		}
		if b == ']' {
			p.pos++
			return arr, nil
		}

		obj, err := p.ParseObjectOrReference()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArray, err)
		}
		arr = append(arr, obj)
	}
}

func (p *Parser) parseName() (NameObject, error) {
	p.SkipWhitespace()
	if b, err := p.readByte(); err != nil || b != '/' {
		return "", ErrInvalidName
	}

	var buf bytes.Buffer
	for p.pos < int64(len(p.data)) {
		b := p.data[p.pos]
		if IsWhitespace(b) || IsDelimiter(b) {
			break
		}
		p.pos++
		if b == '#' && p.pos+2 <= int64(len(p.data)) {
			val, err := strconv.ParseUint(string(p.data[p.pos:p.pos+2]), 16, 8)
			if err != nil {
				return "", fmt.Errorf("%w: invalid escape", ErrInvalidName)
			}
			p.pos += 2
			buf.WriteByte(byte(val))
			continue
		}
		buf.WriteByte(b)
	}
	return NameObject(buf.String()), nil
}

func (p *Parser) parseNumber() (PdfObject, error) {
	start := p.pos
	hasDecimal := false

scan:
	for p.pos < int64(len(p.data)) {
		b := p.data[p.pos]
		switch {
		case b >= '0' && b <= '9':
		case b == '.' && !hasDecimal:
			hasDecimal = true
		case (b == '-' || b == '+') && p.pos == start:
		default:
			break scan
		}
		p.pos++
	}

	str := string(p.data[start:p.pos])
	if str == "" || str == "-" || str == "+" || str == "." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNumber, str)
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

// ParseObjectOrReference parses an object, recognising "n g R" references.
func (p *Parser) ParseObjectOrReference() (PdfObject, error) {
	p.SkipWhitespace()
	b, err := p.peekByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidObject, err)
	}
	if b < '0' || b > '9' {
		return p.ParseObject()
	}

	first, err := p.parseNumber()
	if err != nil {
		return nil, err
	}
	objNum, ok := first.(IntegerObject)
	if !ok {
		return first, nil
	}

	afterFirst := p.pos
	p.SkipWhitespace()
	if b, err := p.peekByte(); err != nil || b < '0' || b > '9' {
		p.pos = afterFirst
		return first, nil
	}
	second, err := p.parseNumber()
	genNum, isInt := second.(IntegerObject)
	if err != nil || !isInt {
		p.pos = afterFirst
		return first, nil
	}

	p.SkipWhitespace()
	if b, err := p.peekByte(); err == nil && b == 'R' {
		p.pos++
		return Reference{ObjectNumber: int(objNum), GenerationNumber: int(genNum)}, nil
	}

	p.pos = afterFirst
	return first, nil
}

// ParseIndirectObject parses "n g obj ... endobj" at the current offset.
func (p *Parser) ParseIndirectObject() (*IndirectObject, error) {
	p.SkipWhitespace()
	numObj, err := p.parseNumber()
	if err != nil {
		return nil, fmt.Errorf("%w: object number: %v", ErrInvalidObject, err)
	}
	p.SkipWhitespace()
	genObj, err := p.parseNumber()
	if err != nil {
		return nil, fmt.Errorf("%w: generation number: %v", ErrInvalidObject, err)
	}
	objNum, ok1 := numObj.(IntegerObject)
	genNum, ok2 := genObj.(IntegerObject)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%w: non-integer object header", ErrInvalidObject)
	}

	if token := p.ReadToken(); token != "obj" {
		return nil, fmt.Errorf("%w: expected 'obj', got %q", ErrInvalidObject, token)
	}

	obj, err := p.ParseObjectOrReference()
	if err != nil {
		return nil, err
	}

	if dict, ok := obj.(*DictionaryObject); ok {
		save := p.pos
		if p.ReadToken() == "stream" {
			data, err := p.readStreamData(dict)
			if err != nil {
				return nil, fmt.Errorf("object %d: %w", objNum, err)
			}
			obj = NewStream(dict, data)
		} else {
			p.pos = save
		}
	}

	// "endobj" is optional in damaged files.
	save := p.pos
	if p.ReadToken() != "endobj" {
		p.pos = save
	}

	return NewIndirectObject(int(objNum), int(genNum), obj), nil
}

// readStreamData reads stream content positioned right after "stream".
func (p *Parser) readStreamData(dict *DictionaryObject) ([]byte, error) {
	if b, err := p.peekByte(); err == nil && b == '\r' {
		p.pos++
	}
	if b, err := p.peekByte(); err == nil && b == '\n' {
		p.pos++
	}
	start := p.pos

	length := int64(-1)
	switch l := dict.Get("Length").(type) {
	case IntegerObject:
		length = int64(l)
	case Reference:
		if p.ResolveLength != nil {
			if resolved, ok := p.ResolveLength(l); ok {
				length = resolved
			}
		}
	}

	if length >= 0 && start+length <= int64(len(p.data)) {
		p.pos = start + length
		if p.ReadToken() == "endstream" {
			return p.data[start : start+length], nil
		}
	}

	// Length missing or wrong: scan for the keyword instead.
	idx := bytes.Index(p.data[start:], []byte("endstream"))
	if idx < 0 {
		return nil, fmt.Errorf("%w: missing endstream", ErrInvalidStream)
	}
	end := start + int64(idx)
	p.pos = end + int64(len("endstream"))
	if end > start && p.data[end-1] == '\n' {
		end--
	}
	if end > start && p.data[end-1] == '\r' {
		end--
	}
	return p.data[start:end], nil
}
