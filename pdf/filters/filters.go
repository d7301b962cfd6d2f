// Package filters decodes the stream filters needed to read cross-reference
// and object streams, and encodes Flate data for the writer.
package filters

import (
	"bytes"
	"compress/zlib"
	"encoding/ascii85"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/georgepadayatti/pdfsignatures/pdf/generic"
)

var (
	ErrUnsupportedFilter = errors.New("unsupported filter")
	ErrDecodeFailed      = errors.New("decode failed")
)

// Filter is a PDF stream filter. params is the matching /DecodeParms
// dictionary and may be nil.
type Filter interface {
	Name() string
	Decode(data []byte, params *generic.DictionaryObject) ([]byte, error)
	Encode(data []byte, params *generic.DictionaryObject) ([]byte, error)
}

// FlateFilter implements FlateDecode with PNG and TIFF predictors.
type FlateFilter struct{}

func (FlateFilter) Name() string { return "FlateDecode" }

func (FlateFilter) Decode(data []byte, params *generic.DictionaryObject) ([]byte, error) {
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		// Truncated zlib trailers are common; keep what was inflated.
		if !errors.Is(err, io.ErrUnexpectedEOF) || buf.Len() == 0 {
			return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
		}
	}

	return applyPredictor(buf.Bytes(), params)
}

func (FlateFilter) Encode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("flate encode failed: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("flate encode failed: %w", err)
	}
	return buf.Bytes(), nil
}

func intParam(params *generic.DictionaryObject, key string, def int) int {
	if params == nil {
		return def
	}
	if v, ok := params.GetInt(key); ok {
		return int(v)
	}
	return def
}

func applyPredictor(data []byte, params *generic.DictionaryObject) ([]byte, error) {
	predictor := intParam(params, "Predictor", 1)
	if predictor == 1 {
		return data, nil
	}

	columns := intParam(params, "Columns", 1)
	colors := intParam(params, "Colors", 1)
	bpc := intParam(params, "BitsPerComponent", 8)
	bytesPerPixel := (colors*bpc + 7) / 8
	rowBytes := (columns*colors*bpc + 7) / 8

	switch {
	case predictor == 2:
		if bpc != 8 {
			return nil, fmt.Errorf("%w: TIFF predictor with %d bits per component", ErrUnsupportedFilter, bpc)
		}
		out := bytes.Clone(data)
		for row := 0; row+rowBytes <= len(out); row += rowBytes {
			for j := bytesPerPixel; j < rowBytes; j++ {
				out[row+j] += out[row+j-bytesPerPixel]
			}
		}
		return out, nil
	case predictor >= 10 && predictor <= 15:
		return decodePNG(data, rowBytes, bytesPerPixel)
	default:
		return nil, fmt.Errorf("%w: predictor %d", ErrUnsupportedFilter, predictor)
	}
}

// decodePNG reverses PNG row filters; every row is prefixed by its filter type.
func decodePNG(data []byte, rowBytes, bpp int) ([]byte, error) {
	stride := rowBytes + 1
	if len(data)%stride != 0 {
		return nil, fmt.Errorf("%w: PNG data length %d not a multiple of row size %d", ErrDecodeFailed, len(data), stride)
	}

	out := make([]byte, 0, len(data)/stride*rowBytes)
	prev := make([]byte, rowBytes)
	for i := 0; i < len(data); i += stride {
		filterType := data[i]
		row := bytes.Clone(data[i+1 : i+stride])

		for j := range row {
			var left, upLeft byte
			if j >= bpp {
				left = row[j-bpp]
				upLeft = prev[j-bpp]
			}
			up := prev[j]
			switch filterType {
			case 0:
			case 1:
				row[j] += left
			case 2:
				row[j] += up
			case 3:
				row[j] += byte((int(left) + int(up)) / 2)
			case 4:
				row[j] += paeth(left, up, upLeft)
			default:
				return nil, fmt.Errorf("%w: PNG filter type %d", ErrDecodeFailed, filterType)
			}
		}

		out = append(out, row...)
		prev = row
	}
	return out, nil
}

func paeth(a, b, c byte) byte {
	p := int(a) + int(b) - int(c)
	pa, pb, pc := abs(p-int(a)), abs(p-int(b)), abs(p-int(c))
	if pa <= pb && pa <= pc {
		return a
	}
	if pb <= pc {
		return b
	}
	return c
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}

// ASCIIHexFilter implements ASCIIHexDecode.
type ASCIIHexFilter struct{}

func (ASCIIHexFilter) Name() string { return "ASCIIHexDecode" }

func (ASCIIHexFilter) Decode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	digits := make([]byte, 0, len(data)+1)
	for _, b := range data {
		if b == '>' {
			break
		}
		if !generic.IsWhitespace(b) {
			digits = append(digits, b)
		}
	}
	if len(digits)%2 != 0 {
		digits = append(digits, '0')
	}
	out := make([]byte, len(digits)/2)
	if _, err := hex.Decode(out, digits); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return out, nil
}

func (ASCIIHexFilter) Encode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	return []byte(hex.EncodeToString(data) + ">"), nil
}

// ASCII85Filter implements ASCII85Decode.
type ASCII85Filter struct{}

func (ASCII85Filter) Name() string { return "ASCII85Decode" }

func (ASCII85Filter) Decode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	if end := bytes.Index(data, []byte("~>")); end >= 0 {
		data = data[:end]
	}
	data = bytes.TrimPrefix(bytes.TrimSpace(data), []byte("<~"))

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, ascii85.NewDecoder(bytes.NewReader(data))); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecodeFailed, err)
	}
	return buf.Bytes(), nil
}

func (ASCII85Filter) Encode(data []byte, _ *generic.DictionaryObject) ([]byte, error) {
	var buf bytes.Buffer
	enc := ascii85.NewEncoder(&buf)
	if _, err := enc.Write(data); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	buf.WriteString("~>")
	return buf.Bytes(), nil
}

var registry = map[string]Filter{
	"FlateDecode":    FlateFilter{},
	"Fl":             FlateFilter{},
	"ASCIIHexDecode": ASCIIHexFilter{},
	"AHx":            ASCIIHexFilter{},
	"ASCII85Decode":  ASCII85Filter{},
	"A85":            ASCII85Filter{},
}

// GetFilter returns the filter registered under name (full or abbreviated).
func GetFilter(name string) (Filter, error) {
	if f, ok := registry[name]; ok {
		return f, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedFilter, name)
}

// DecodeStream applies the stream's /Filter chain to its data.
func DecodeStream(stream *generic.StreamObject) ([]byte, error) {
	names, params := filterChain(stream.Dictionary)
	result := stream.Data
	for i, name := range names {
		f, err := GetFilter(name)
		if err != nil {
			return nil, err
		}
		result, err = f.Decode(result, params[i])
		if err != nil {
			return nil, fmt.Errorf("filter %s: %w", name, err)
		}
	}
	return result, nil
}

// FlateEncode compresses data with FlateDecode and no predictor.
func FlateEncode(data []byte) ([]byte, error) {
	return FlateFilter{}.Encode(data, nil)
}

func filterChain(dict *generic.DictionaryObject) ([]string, []*generic.DictionaryObject) {
	var names []string
	switch f := dict.Get("Filter").(type) {
	case generic.NameObject:
		names = []string{string(f)}
	case generic.ArrayObject:
		for _, item := range f {
			if n, ok := item.(generic.NameObject); ok {
				names = append(names, string(n))
			}
		}
	}

	params := make([]*generic.DictionaryObject, len(names))
	switch p := dict.Get("DecodeParms").(type) {
	case *generic.DictionaryObject:
		if len(params) > 0 {
			params[0] = p
		}
	case generic.ArrayObject:
		for i, item := range p {
			if d, ok := item.(*generic.DictionaryObject); ok && i < len(params) {
				params[i] = d
			}
		}
	}
	return names, params
}
