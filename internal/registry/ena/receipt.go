package ena

import (
	"encoding/xml"
	"fmt"
	"regexp"
	"strings"

	"github.com/kiranshivaraju/enaupload/pkg/models"
)

type receipt struct {
	XMLName     xml.Name        `xml:"RECEIPT"`
	Success     string          `xml:"success,attr"`
	ReceiptDate string          `xml:"receiptDate,attr"`
	Studies     []receiptObject `xml:"STUDY"`
	Samples     []receiptObject `xml:"SAMPLE"`
	Experiments []receiptObject `xml:"EXPERIMENT"`
	Runs        []receiptObject `xml:"RUN"`
	Errors      []string        `xml:"MESSAGES>ERROR"`
	Infos       []string        `xml:"MESSAGES>INFO"`
}

type receiptObject struct {
	Alias     string `xml:"alias,attr"`
	Accession string `xml:"accession,attr"`
}

// receiptUpdate is what the registry acknowledged for one schema.
type receiptUpdate struct {
	Alias     string
	Accession string
	Date      string
}

var releasedRe = regexp.MustCompile(`(.+?) accession "(.+?)"`)

func (r *receipt) objects(schema string) []receiptObject {
	switch schema {
	case "study":
		return r.Studies
	case "sample":
		return r.Samples
	case "experiment":
		return r.Experiments
	case "run":
		return r.Runs
	}
	return nil
}

// parseReceipt decodes a drop-box receipt. A receipt without success="true"
// is returned as an error carrying the joined MESSAGES/ERROR texts.
func parseReceipt(body []byte) (*receipt, error) {
	var r receipt
	if err := xml.Unmarshal(body, &r); err != nil {
		return nil, fmt.Errorf("decoding receipt: %w", err)
	}
	if r.Success != "true" {
		msgs := make([]string, 0, len(r.Errors))
		for _, e := range r.Errors {
			msgs = append(msgs, strings.TrimSpace(e))
		}
		detail := strings.ReplaceAll(strings.Join(msgs, " "), `"`, "'")
		if detail == "" {
			detail = "registry rejected the submission"
		}
		return &r, fmt.Errorf("%s", detail)
	}
	return &r, nil
}

// updates maps each schema in targets to the receipt entry whose alias
// matches the submitted record, falling back to the first entry.
func (r *receipt) updates(targets map[string]map[string]any) map[string]receiptUpdate {
	out := map[string]receiptUpdate{}
	for schema, rec := range targets {
		objs := r.objects(schema)
		if len(objs) == 0 {
			continue
		}
		pick := objs[0]
		alias := str(rec["alias"])
		for _, o := range objs {
			if o.Alias == alias {
				pick = o
				break
			}
		}
		out[schema] = receiptUpdate{Alias: pick.Alias, Accession: pick.Accession, Date: r.ReceiptDate}
	}
	return out
}

// released lists the accessions a RELEASE receipt reports per object type.
func (r *receipt) released() map[string][]string {
	out := map[string][]string{}
	for _, info := range r.Infos {
		m := releasedRe.FindStringSubmatch(info)
		if m == nil {
			continue
		}
		out[m[1]] = append(out[m[1]], m[2])
	}
	return out
}

// applyReceipt builds the job result: every schema of the submission, with
// acknowledged schemas carrying the receipt fields and the action outcome.
func applyReceipt(action models.Action, records, targets map[string]map[string]any, r *receipt) map[string]any {
	result := map[string]any{}
	var updates map[string]receiptUpdate
	if action == models.ActionAdd || action == models.ActionModify {
		updates = r.updates(targets)
	}

	for _, schema := range models.Schemas {
		rec, ok := records[schema]
		if !ok {
			continue
		}
		row := make(map[string]any, len(rec)+4)
		for k, v := range rec {
			row[k] = v
		}
		if _, targeted := targets[schema]; targeted {
			if u, ok := updates[schema]; ok {
				row["alias"] = u.Alias
				row["accession"] = u.Accession
				row["submission_date"] = u.Date
				row["status"] = action.Outcome()
			} else if updates == nil {
				row["status"] = action.Outcome()
			}
		}
		result[schema] = row
	}
	return result
}
