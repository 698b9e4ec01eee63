package ena

import (
	"encoding/xml"
	"fmt"
	"sort"
	"strings"

	"github.com/kiranshivaraju/enaupload/pkg/models"
)

// bookkeeping keys never become XML attributes.
var bookkeeping = map[string]bool{
	"alias":           true,
	"accession":       true,
	"status":          true,
	"submission_date": true,
	"file_name":       true,
	"file_type":       true,
	"file_checksum":   true,
}

var structural = map[string]map[string]bool{
	"study": {
		"title": true, "study_type": true, "study_abstract": true, "study_description": true,
	},
	"sample": {
		"title": true, "taxon_id": true, "scientific_name": true, "common_name": true,
		"sample_description": true,
	},
	"experiment": {
		"title": true, "study_alias": true, "study_accession": true, "sample_alias": true,
		"sample_accession": true, "design_description": true, "library_name": true,
		"library_strategy": true, "library_source": true, "library_selection": true,
		"library_layout": true, "insert_size": true, "library_construction_protocol": true,
		"platform": true, "instrument_model": true,
	},
	"run": {
		"title": true, "experiment_alias": true, "experiment_accession": true,
	},
}

type attribute struct {
	Tag   string `xml:"TAG"`
	Value string `xml:"VALUE"`
}

type ref struct {
	RefName   string `xml:"refname,attr,omitempty"`
	Accession string `xml:"accession,attr,omitempty"`
}

type studySet struct {
	XMLName xml.Name   `xml:"STUDY_SET"`
	Studies []studyXML `xml:"STUDY"`
}

type studyXML struct {
	Alias       string      `xml:"alias,attr"`
	Accession   string      `xml:"accession,attr,omitempty"`
	CenterName  string      `xml:"center_name,attr,omitempty"`
	Title       string      `xml:"DESCRIPTOR>STUDY_TITLE"`
	Type        studyType   `xml:"DESCRIPTOR>STUDY_TYPE"`
	Abstract    string      `xml:"DESCRIPTOR>STUDY_ABSTRACT,omitempty"`
	Description string      `xml:"DESCRIPTOR>STUDY_DESCRIPTION,omitempty"`
	Attributes  []attribute `xml:"STUDY_ATTRIBUTES>STUDY_ATTRIBUTE"`
}

type studyType struct {
	Existing string `xml:"existing_study_type,attr"`
}

type sampleSet struct {
	XMLName xml.Name    `xml:"SAMPLE_SET"`
	Samples []sampleXML `xml:"SAMPLE"`
}

type sampleXML struct {
	Alias          string      `xml:"alias,attr"`
	Accession      string      `xml:"accession,attr,omitempty"`
	CenterName     string      `xml:"center_name,attr,omitempty"`
	Title          string      `xml:"TITLE,omitempty"`
	TaxonID        string      `xml:"SAMPLE_NAME>TAXON_ID"`
	ScientificName string      `xml:"SAMPLE_NAME>SCIENTIFIC_NAME,omitempty"`
	CommonName     string      `xml:"SAMPLE_NAME>COMMON_NAME,omitempty"`
	Description    string      `xml:"DESCRIPTION,omitempty"`
	Attributes     []attribute `xml:"SAMPLE_ATTRIBUTES>SAMPLE_ATTRIBUTE"`
}

type experimentSet struct {
	XMLName     xml.Name        `xml:"EXPERIMENT_SET"`
	Experiments []experimentXML `xml:"EXPERIMENT"`
}

type experimentXML struct {
	Alias      string      `xml:"alias,attr"`
	Accession  string      `xml:"accession,attr,omitempty"`
	CenterName string      `xml:"center_name,attr,omitempty"`
	Title      string      `xml:"TITLE,omitempty"`
	StudyRef   ref         `xml:"STUDY_REF"`
	Design     string      `xml:"DESIGN>DESIGN_DESCRIPTION"`
	SampleRef  ref         `xml:"DESIGN>SAMPLE_DESCRIPTOR"`
	Library    libraryXML  `xml:"DESIGN>LIBRARY_DESCRIPTOR"`
	Platform   platformXML `xml:"PLATFORM"`
	Attributes []attribute `xml:"EXPERIMENT_ATTRIBUTES>EXPERIMENT_ATTRIBUTE"`
}

type libraryXML struct {
	Name      string    `xml:"LIBRARY_NAME,omitempty"`
	Strategy  string    `xml:"LIBRARY_STRATEGY"`
	Source    string    `xml:"LIBRARY_SOURCE"`
	Selection string    `xml:"LIBRARY_SELECTION"`
	Layout    layoutXML `xml:"LIBRARY_LAYOUT"`
	Protocol  string    `xml:"LIBRARY_CONSTRUCTION_PROTOCOL,omitempty"`
}

type layoutXML struct {
	Single *struct{}  `xml:"SINGLE"`
	Paired *pairedXML `xml:"PAIRED"`
}

type pairedXML struct {
	NominalLength string `xml:"NOMINAL_LENGTH,attr,omitempty"`
}

type platformXML struct {
	Vendor vendorXML
}

// vendorXML is named after the sequencing platform (ILLUMINA, OXFORD_NANOPORE, ...).
type vendorXML struct {
	XMLName xml.Name
	Model   string `xml:"INSTRUMENT_MODEL"`
}

type runSet struct {
	XMLName xml.Name `xml:"RUN_SET"`
	Runs    []runXML `xml:"RUN"`
}

type runXML struct {
	Alias         string      `xml:"alias,attr"`
	Accession     string      `xml:"accession,attr,omitempty"`
	CenterName    string      `xml:"center_name,attr,omitempty"`
	Title         string      `xml:"TITLE,omitempty"`
	ExperimentRef ref         `xml:"EXPERIMENT_REF"`
	Files         []fileXML   `xml:"DATA_BLOCK>FILES>FILE"`
	Attributes    []attribute `xml:"RUN_ATTRIBUTES>RUN_ATTRIBUTE"`
}

type fileXML struct {
	Name     string `xml:"filename,attr"`
	Type     string `xml:"filetype,attr"`
	Method   string `xml:"checksum_method,attr"`
	Checksum string `xml:"checksum,attr"`
}

type submissionXML struct {
	XMLName    xml.Name    `xml:"SUBMISSION"`
	Alias      string      `xml:"alias,attr"`
	CenterName string      `xml:"center_name,attr,omitempty"`
	Actions    []actionXML `xml:"ACTIONS>ACTION"`
	Attributes []attribute `xml:"SUBMISSION_ATTRIBUTES>SUBMISSION_ATTRIBUTE"`
}

type actionXML struct {
	Verb verbXML
}

type verbXML struct {
	XMLName xml.Name
	Target  string `xml:"target,attr,omitempty"`
}

// runFile is a transferred run file.
type runFile struct {
	Name     string
	Type     string
	Checksum string
}

// document is one schema XML ready to be posted.
type document struct {
	Schema string
	Body   []byte
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func attributes(schema string, rec map[string]any) []attribute {
	keys := make([]string, 0, len(rec))
	for k := range rec {
		if bookkeeping[k] || structural[schema][k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var out []attribute
	for _, k := range keys {
		v := str(rec[k])
		if v == "" {
			continue
		}
		out = append(out, attribute{Tag: k, Value: v})
	}
	return out
}

func marshalDoc(v any) ([]byte, error) {
	body, err := xml.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append([]byte(xml.Header), body...), nil
}

// buildSchema renders the XML for one schema record.
func buildSchema(schema string, rec map[string]any, center, checklist string, files []runFile) ([]byte, error) {
	alias := str(rec["alias"])
	accession := str(rec["accession"])

	switch schema {
	case "study":
		kind := str(rec["study_type"])
		if kind == "" {
			kind = "Other"
		}
		return marshalDoc(studySet{Studies: []studyXML{{
			Alias:       alias,
			Accession:   accession,
			CenterName:  center,
			Title:       str(rec["title"]),
			Type:        studyType{Existing: kind},
			Abstract:    str(rec["study_abstract"]),
			Description: str(rec["study_description"]),
			Attributes:  attributes(schema, rec),
		}}})

	case "sample":
		attrs := attributes(schema, rec)
		if checklist != "" {
			attrs = append(attrs, attribute{Tag: "ENA-CHECKLIST", Value: checklist})
		}
		return marshalDoc(sampleSet{Samples: []sampleXML{{
			Alias:          alias,
			Accession:      accession,
			CenterName:     center,
			Title:          str(rec["title"]),
			TaxonID:        str(rec["taxon_id"]),
			ScientificName: str(rec["scientific_name"]),
			CommonName:     str(rec["common_name"]),
			Description:    str(rec["sample_description"]),
			Attributes:     attrs,
		}}})

	case "experiment":
		var layout layoutXML
		if strings.EqualFold(str(rec["library_layout"]), "PAIRED") {
			layout.Paired = &pairedXML{NominalLength: str(rec["insert_size"])}
		} else {
			layout.Single = &struct{}{}
		}
		platform := strings.ToUpper(str(rec["platform"]))
		if platform == "" {
			platform = "ILLUMINA"
		}
		return marshalDoc(experimentSet{Experiments: []experimentXML{{
			Alias:      alias,
			Accession:  accession,
			CenterName: center,
			Title:      str(rec["title"]),
			StudyRef:   ref{RefName: str(rec["study_alias"]), Accession: str(rec["study_accession"])},
			Design:     str(rec["design_description"]),
			SampleRef:  ref{RefName: str(rec["sample_alias"]), Accession: str(rec["sample_accession"])},
			Library: libraryXML{
				Name:      str(rec["library_name"]),
				Strategy:  str(rec["library_strategy"]),
				Source:    str(rec["library_source"]),
				Selection: str(rec["library_selection"]),
				Layout:    layout,
				Protocol:  str(rec["library_construction_protocol"]),
			},
			Platform: platformXML{Vendor: vendorXML{
				XMLName: xml.Name{Local: platform},
				Model:   str(rec["instrument_model"]),
			}},
			Attributes: attributes(schema, rec),
		}}})

	case "run":
		xf := make([]fileXML, len(files))
		for i, f := range files {
			xf[i] = fileXML{Name: f.Name, Type: f.Type, Method: "MD5", Checksum: f.Checksum}
		}
		return marshalDoc(runSet{Runs: []runXML{{
			Alias:         alias,
			Accession:     accession,
			CenterName:    center,
			Title:         str(rec["title"]),
			ExperimentRef: ref{RefName: str(rec["experiment_alias"]), Accession: str(rec["experiment_accession"])},
			Files:         xf,
			Attributes:    attributes(schema, rec),
		}}})
	}
	return nil, fmt.Errorf("unknown schema %q", schema)
}

// buildSubmission renders the SUBMISSION document. ADD and MODIFY carry a
// single verb; CANCEL and RELEASE name every targeted accession.
func buildSubmission(alias string, action models.Action, targets map[string]map[string]any, center, toolName, toolVersion string) ([]byte, error) {
	sub := submissionXML{Alias: alias, CenterName: center}

	switch action {
	case models.ActionAdd, models.ActionModify:
		sub.Actions = []actionXML{{Verb: verbXML{XMLName: xml.Name{Local: string(action)}}}}
	case models.ActionCancel, models.ActionRelease:
		for _, schema := range models.Schemas {
			rec, ok := targets[schema]
			if !ok {
				continue
			}
			acc := str(rec["accession"])
			if acc == "" {
				return nil, fmt.Errorf("%s has no accession to %s", schema, strings.ToLower(string(action)))
			}
			sub.Actions = append(sub.Actions, actionXML{Verb: verbXML{
				XMLName: xml.Name{Local: string(action)},
				Target:  acc,
			}})
		}
	default:
		return nil, fmt.Errorf("the action %s is not supported", action)
	}

	if toolName != "" {
		sub.Attributes = append(sub.Attributes,
			attribute{Tag: "SUBMISSION_TOOL", Value: toolName},
			attribute{Tag: "SUBMISSION_TOOL_VERSION", Value: toolVersion},
		)
	}
	return marshalDoc(sub)
}
