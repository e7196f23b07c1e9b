// Package deck reads PowerPoint files. The pipeline only needs two
// things from a deck: how many slides it has and each slide's speaker
// notes, so this stays a narrow reader over the OOXML package rather
// than a general pptx library.
package deck

import (
	"archive/zip"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// Static errors for deck parsing.
var (
	// ErrNotDeck is returned when the file is not a PowerPoint package.
	ErrNotDeck = errors.New("deck: not a PowerPoint file")
	// ErrNoSlides is returned when the deck contains no slides.
	ErrNoSlides = errors.New("deck: presentation has no slides")
)

// ExtractNotes opens a pptx package and returns each slide's speaker
// notes in presentation order. Slides without notes yield an empty
// string. The slice length is the deck's slide count.
func ExtractNotes(r io.ReaderAt, size int64) ([]string, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotDeck, err)
	}

	files := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		files[f.Name] = f
	}
	if _, ok := files["ppt/presentation.xml"]; !ok {
		return nil, ErrNotDeck
	}

	slides, err := slidePaths(files)
	if err != nil {
		return nil, err
	}
	if len(slides) == 0 {
		return nil, ErrNoSlides
	}

	notes := make([]string, len(slides))
	for i, slidePath := range slides {
		notesPath, err := notesPathFor(files, slidePath)
		if err != nil {
			return nil, err
		}
		if notesPath == "" {
			continue
		}
		text, err := notesText(files, notesPath)
		if err != nil {
			return nil, err
		}
		notes[i] = text
	}
	return notes, nil
}

// OOXML relationship types of the parts we follow.
const (
	relTypeSlide = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/slide"
	relTypeNotes = "http://schemas.openxmlformats.org/officeDocument/2006/relationships/notesSlide"
)

type relationships struct {
	Relationships []relationship `xml:"Relationship"`
}

type relationship struct {
	ID     string `xml:"Id,attr"`
	Type   string `xml:"Type,attr"`
	Target string `xml:"Target,attr"`
}

type presentation struct {
	SlideIDs []slideID `xml:"sldIdLst>sldId"`
}

type slideID struct {
	// r:id, qualified so the unprefixed numeric id attribute is not
	// picked up instead.
	RelID string `xml:"http://schemas.openxmlformats.org/officeDocument/2006/relationships id,attr"`
}

// slidePaths resolves the presentation's slide list, in order, to part
// paths within the package.
func slidePaths(files map[string]*zip.File) ([]string, error) {
	rels, err := parseRels(files, "ppt/_rels/presentation.xml.rels")
	if err != nil {
		return nil, err
	}

	targets := make(map[string]string)
	for _, rel := range rels.Relationships {
		if rel.Type == relTypeSlide {
			targets[rel.ID] = resolveTarget("ppt", rel.Target)
		}
	}

	pres, err := readXML[presentation](files, "ppt/presentation.xml")
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, sld := range pres.SlideIDs {
		if target, ok := targets[sld.RelID]; ok {
			paths = append(paths, target)
		}
	}
	if len(paths) > 0 {
		return paths, nil
	}

	// Some producers omit the slide list. Fall back to the relationship
	// targets in numeric part order.
	for _, target := range targets {
		paths = append(paths, target)
	}
	sort.Slice(paths, func(i, j int) bool {
		return partOrdinal(paths[i]) < partOrdinal(paths[j])
	})
	return paths, nil
}

// notesPathFor returns the notes part linked from a slide, or "" when
// the slide has none.
func notesPathFor(files map[string]*zip.File, slidePath string) (string, error) {
	relsPath := path.Join(path.Dir(slidePath), "_rels", path.Base(slidePath)+".rels")
	if _, ok := files[relsPath]; !ok {
		return "", nil
	}
	rels, err := parseRels(files, relsPath)
	if err != nil {
		return "", err
	}
	for _, rel := range rels.Relationships {
		if rel.Type == relTypeNotes {
			return resolveTarget(path.Dir(slidePath), rel.Target), nil
		}
	}
	return "", nil
}

// notesText gathers the text runs of a notes part. Paragraph boundaries
// become newlines, matching how presentation tools export notes.
func notesText(files map[string]*zip.File, notesPath string) (string, error) {
	f, ok := files[notesPath]
	if !ok {
		return "", nil
	}
	rc, err := f.Open()
	if err != nil {
		return "", fmt.Errorf("deck: open %s: %w", notesPath, err)
	}
	defer rc.Close()

	var (
		sb     strings.Builder
		inText bool
	)
	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("deck: parse %s: %w", notesPath, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}

func parseRels(files map[string]*zip.File, name string) (*relationships, error) {
	return readXML[relationships](files, name)
}

func readXML[T any](files map[string]*zip.File, name string) (*T, error) {
	f, ok := files[name]
	if !ok {
		return nil, fmt.Errorf("%w: missing %s", ErrNotDeck, name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("deck: open %s: %w", name, err)
	}
	defer rc.Close()

	var out T
	if err := xml.NewDecoder(rc).Decode(&out); err != nil {
		return nil, fmt.Errorf("deck: parse %s: %w", name, err)
	}
	return &out, nil
}

// resolveTarget joins a relationship target against its source part's
// directory. Targets are relative ("slides/slide1.xml", "../notesSlides/...").
func resolveTarget(baseDir, target string) string {
	if strings.HasPrefix(target, "/") {
		return strings.TrimPrefix(target, "/")
	}
	return path.Join(baseDir, target)
}

// partOrdinal extracts the numeric suffix of a part name, "slide12.xml" -> 12.
func partOrdinal(p string) int {
	base := strings.TrimSuffix(path.Base(p), path.Ext(p))
	n := 0
	for _, r := range base {
		if r >= '0' && r <= '9' {
			n = n*10 + int(r-'0')
		}
	}
	return n
}
