package evidence

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// xmlPath selects elements of a run-parameter file by absolute path, e.g.
// /RunParameters/Setup/Flowcell. Names match the local element name.
type xmlPath []string

func compileXMLPath(expr string) (xmlPath, error) {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "/") || strings.HasPrefix(expr, "//") {
		return nil, fmt.Errorf("xml path %q must be absolute", expr)
	}
	var path xmlPath
	for _, seg := range strings.Split(expr, "/") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if strings.ContainsAny(seg, "[]@*") {
			return nil, fmt.Errorf("xml path %q: only element names are supported", expr)
		}
		path = append(path, seg)
	}
	if len(path) == 0 {
		return nil, fmt.Errorf("xml path %q selects nothing", expr)
	}
	return path, nil
}

func mustXMLPath(expr string) xmlPath {
	p, err := compileXMLPath(expr)
	if err != nil {
		panic(err)
	}
	return p
}

// exists reports whether a matching element is present, even an empty one.
func (p xmlPath) exists(doc []byte) (bool, error) {
	found := false
	err := p.each(doc, func(*xml.Decoder) error {
		found = true
		return nil
	})
	return found, err
}

// firstText returns the trimmed text of the first match. An empty element
// is not a match.
func (p xmlPath) firstText(doc []byte) (string, bool, error) {
	var text string
	err := p.each(doc, func(dec *xml.Decoder) error {
		t, err := elementText(dec)
		text = strings.TrimSpace(t)
		return err
	})
	if err != nil {
		return "", false, err
	}
	return text, text != "", nil
}

// each calls fn on the first element at p and stops.
func (p xmlPath) each(doc []byte, fn func(*xml.Decoder) error) error {
	dec := xml.NewDecoder(bytes.NewReader(doc))
	depth := 0
	// matched counts the leading segments of p the open elements agree with.
	matched := 0
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if matched == depth-1 && depth <= len(p) && t.Name.Local == p[depth-1] {
				matched = depth
				if matched == len(p) {
					return fn(dec)
				}
			}
		case xml.EndElement:
			if matched == depth {
				matched--
			}
			depth--
		}
	}
}

// elementText reads the character data up to the end of the current element.
func elementText(dec *xml.Decoder) (string, error) {
	var b strings.Builder
	for depth := 1; depth > 0; {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			b.Write(t)
		}
	}
	return b.String(), nil
}
