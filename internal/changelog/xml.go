package changelog

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

type xmlChangeSetAttrs struct {
	ID          string
	Author      string
	Context     string
	Contexts    string
	RunAlways   bool
	RunOnChange bool
}

type xmlInclude struct {
	File                    string `xml:"file,attr"`
	Path                    string `xml:"path,attr"`
	RelativeToChangelogFile bool   `xml:"relativeToChangelogFile,attr"`
}

// parseXML parses a changelog in the Liquibase XML format. Elements are
// read as a token stream so that the order of changesets, includes and
// changes is preserved.
func parseXML(src source, data []byte) ([]entry, error) {
	d := xml.NewDecoder(bytes.NewReader(data))

	root, err := nextStart(d)
	if err != nil {
		return nil, fmt.Errorf("parsing changelog: %w", err)
	}
	if root.Name.Local != "databaseChangeLog" {
		return nil, fmt.Errorf("root element must be databaseChangeLog, found %s", root.Name.Local)
	}

	var entries []entry
	for {
		line, _ := d.InputPos()
		tok, err := d.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, errors.New("unexpected end of changelog")
			}
			return nil, &ParseError{Line: line, Err: err}
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return entries, nil
		case xml.StartElement:
			e, err := parseXMLEntry(src, d, t, line)
			if err != nil {
				return nil, err
			}
			if e != nil {
				entries = append(entries, *e)
			}
		}
	}
}

func parseXMLEntry(src source, d *xml.Decoder, start xml.StartElement, line int) (*entry, error) {
	switch start.Name.Local {
	case "changeSet":
		cs, err := parseXMLChangeSet(src, d, start, line)
		if err != nil {
			return nil, err
		}
		return &entry{changeSet: cs}, nil
	case "include", "includeAll":
		var inc xmlInclude
		if err := d.DecodeElement(&inc, &start); err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}
		if start.Name.Local == "include" {
			if inc.File == "" {
				return nil, &ParseError{Line: line, Err: errors.New("include: file is required")}
			}
			return &entry{include: &include{Path: inc.File, RelativeToChangelogFile: inc.RelativeToChangelogFile, Line: line}}, nil
		}
		if inc.Path == "" {
			return nil, &ParseError{Line: line, Err: errors.New("includeAll: path is required")}
		}
		return &entry{includeAll: &include{Path: inc.Path, RelativeToChangelogFile: inc.RelativeToChangelogFile, Line: line}}, nil
	case "property", "preConditions":
		return nil, d.Skip()
	default:
		return nil, &ParseError{Line: line, Err: fmt.Errorf("unsupported changelog element %q", start.Name.Local)}
	}
}

func parseXMLChangeSet(src source, d *xml.Decoder, start xml.StartElement, line int) (*ChangeSet, error) {
	var attrs xmlChangeSetAttrs
	for _, a := range start.Attr {
		if err := setXMLAttr(&attrs, a); err != nil {
			return nil, &ParseError{Line: line, Err: err}
		}
	}

	cs := &ChangeSet{
		ID:          attrs.ID,
		Author:      attrs.Author,
		Line:        line,
		Contexts:    attrs.Context,
		RunAlways:   attrs.RunAlways,
		RunOnChange: attrs.RunOnChange,
	}
	if cs.Contexts == "" {
		cs.Contexts = attrs.Contexts
	}

	for {
		childLine, _ := d.InputPos()
		tok, err := d.Token()
		if err != nil {
			return nil, &ParseError{Line: childLine, Err: fmt.Errorf("changeset %q: %w", cs.ID, err)}
		}
		switch t := tok.(type) {
		case xml.EndElement:
			return cs, nil
		case xml.StartElement:
			if err := parseXMLChild(src, d, t, cs); err != nil {
				return nil, &ParseError{Line: childLine, Err: fmt.Errorf("changeset %q: %w", cs.ID, err)}
			}
		}
	}
}

func parseXMLChild(src source, d *xml.Decoder, start xml.StartElement, cs *ChangeSet) error {
	var (
		c   Change
		err error
	)
	switch start.Name.Local {
	case "comment":
		var text string
		if err := d.DecodeElement(&text, &start); err != nil {
			return err
		}
		cs.Comment = strings.TrimSpace(text)
		return nil
	case "rollback", "preConditions", "validCheckSum":
		return d.Skip()
	case "sql":
		var v SQLChange
		if err = d.DecodeElement(&v, &start); err == nil {
			c, err = v.toChange()
		}
	case "sqlFile":
		var v SQLFileChange
		if err = d.DecodeElement(&v, &start); err == nil {
			c, err = v.toChange(src.file, src.root)
		}
	case "createTable":
		var v CreateTableChange
		if err = d.DecodeElement(&v, &start); err == nil {
			c, err = v.toChange()
		}
	case "addColumn":
		var v AddColumnChange
		if err = d.DecodeElement(&v, &start); err == nil {
			c, err = v.toChange()
		}
	case "dropTable":
		var v DropTableChange
		if err = d.DecodeElement(&v, &start); err == nil {
			c, err = v.toChange()
		}
	case "createIndex":
		var v CreateIndexChange
		if err = d.DecodeElement(&v, &start); err == nil {
			c, err = v.toChange()
		}
	default:
		return fmt.Errorf("unsupported change type %q", start.Name.Local)
	}
	if err != nil {
		return err
	}
	cs.Changes = append(cs.Changes, c)
	return nil
}

// setXMLAttr assigns a changeSet attribute. Unknown attributes such as
// labels or dbms are ignored.
func setXMLAttr(attrs *xmlChangeSetAttrs, a xml.Attr) error {
	switch a.Name.Local {
	case "id":
		attrs.ID = a.Value
	case "author":
		attrs.Author = a.Value
	case "context":
		attrs.Context = a.Value
	case "contexts":
		attrs.Contexts = a.Value
	case "runAlways", "runOnChange":
		b, err := parseBool(a.Value)
		if err != nil {
			return fmt.Errorf("attribute %s: %w", a.Name.Local, err)
		}
		if a.Name.Local == "runAlways" {
			attrs.RunAlways = b
		} else {
			attrs.RunOnChange = b
		}
	}
	return nil
}

func nextStart(d *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := d.Token()
		if err != nil {
			return xml.StartElement{}, err
		}
		if se, ok := tok.(xml.StartElement); ok {
			return se, nil
		}
	}
}
