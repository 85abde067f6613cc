package ids

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrNoRootElement = errors.New("document has no root element")

// CheckWellFormed walks every token of doc and fails on the first structural
// XML error. It does not look at the IDS vocabulary.
func CheckWellFormed(doc string) error {
	dec := xml.NewDecoder(strings.NewReader(doc))
	dec.Strict = true

	depth := 0
	roots := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if depth == 0 {
				roots++
				if roots > 1 {
					line, _ := dec.InputPos()
					return fmt.Errorf("line %d: unexpected second root element <%s>", line, t.Name.Local)
				}
			}
			depth++
		case xml.EndElement:
			depth--
		case xml.CharData:
			if depth == 0 && len(strings.TrimSpace(string(t))) > 0 {
				line, _ := dec.InputPos()
				return fmt.Errorf("line %d: text outside of the root element", line)
			}
		}
	}

	if roots == 0 {
		return ErrNoRootElement
	}
	return nil
}
