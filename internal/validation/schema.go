// Package validation checks PRD and task documents against their declared shape.
//
// The shape lives in struct tags on the types package; this package owns the
// validator instance, the custom tags, and the cross-field rules that tags
// cannot express.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/mod/semver"

	"github.com/steveyegge/prdledger/internal/types"
)

// ErrInvalid matches every *Error via errors.Is.
var ErrInvalid = errors.New("validation failed")

// FieldError describes one rule a document violated.
type FieldError struct {
	Field string `json:"field"`
	Tag   string `json:"rule"`
	Param string `json:"param,omitempty"`
	Value any    `json:"value,omitempty"`
}

func (f FieldError) String() string {
	if f.Param != "" {
		return fmt.Sprintf("%s: failed %s=%s", f.Field, f.Tag, f.Param)
	}
	return fmt.Sprintf("%s: failed %s", f.Field, f.Tag)
}

// Error lists every violation found in a document. It is never auto-corrected.
type Error struct {
	Subject string       `json:"subject"`
	Fields  []FieldError `json:"fields"`
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.String())
	}
	return fmt.Sprintf("invalid %s: %s", e.Subject, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrInvalid) work.
func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	// Report json names so errors point at document fields, not Go fields.
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})

	_ = validate.RegisterValidation("prdid", validatePRDID)
	validate.RegisterStructValidation(prdStructLevel, types.PRD{})
	validate.RegisterStructValidation(collectionStructLevel, types.PRDCollection{})
}

func validatePRDID(fl validator.FieldLevel) bool {
	_, ok := types.ParsePRDNumber(fl.Field().String())
	return ok
}

// prdStructLevel enforces history ordering and currentVersion consistency.
func prdStructLevel(sl validator.StructLevel) {
	p := sl.Current().Interface().(types.PRD)

	if len(p.VersionHistory) == 0 {
		return
	}
	for i := 1; i < len(p.VersionHistory); i++ {
		prev, cur := p.VersionHistory[i-1].Version, p.VersionHistory[i].Version
		if semver.Compare(Canonical(prev), Canonical(cur)) >= 0 {
			sl.ReportError(cur, fmt.Sprintf("versionHistory[%d].version", i), "VersionHistory", "increasing", prev)
		}
	}
	last := p.VersionHistory[len(p.VersionHistory)-1].Version
	if p.CurrentVersion != last {
		sl.ReportError(p.CurrentVersion, "currentVersion", "CurrentVersion", "eqlast", last)
	}
}

// collectionStructLevel enforces unique ids, unique links, and the aggregate count.
func collectionStructLevel(sl validator.StructLevel) {
	c := sl.Current().Interface().(types.PRDCollection)

	seen := make(map[string]bool, len(c.PRDs))
	for i, p := range c.PRDs {
		if p == nil {
			continue
		}
		if seen[p.ID] {
			sl.ReportError(p.ID, fmt.Sprintf("prds[%d].id", i), "ID", "unique", "")
		}
		seen[p.ID] = true

		links := make(map[string]bool, len(p.LinkedTaskIDs))
		for j, id := range p.LinkedTaskIDs {
			if links[id] {
				sl.ReportError(id, fmt.Sprintf("prds[%d].linkedTaskIds[%d]", i, j), "LinkedTaskIDs", "unique", "")
			}
			links[id] = true
		}
	}
	if c.Metadata.TotalPRDs != len(c.PRDs) {
		sl.ReportError(c.Metadata.TotalPRDs, "metadata.totalPrds", "TotalPRDs", "eqcount", fmt.Sprint(len(c.PRDs)))
	}
}

// Canonical converts "1.2.3" into the "v1.2.3" form x/mod/semver expects.
func Canonical(v string) string {
	if strings.HasPrefix(v, "v") {
		return v
	}
	return "v" + v
}

// PRD validates a single record.
func PRD(p *types.PRD) error {
	if p == nil {
		return &Error{Subject: "prd", Fields: []FieldError{{Field: "prd", Tag: "required"}}}
	}
	return toError("prd "+p.ID, validate.Struct(p))
}

// Collection validates the whole PRD document, including every record.
func Collection(c *types.PRDCollection) error {
	if c == nil {
		return &Error{Subject: "prd collection", Fields: []FieldError{{Field: "document", Tag: "required"}}}
	}
	return toError("prd collection", validate.Struct(c))
}

// Tasks validates the parts of the task document the store relies on: every
// task has a unique id and a prdSource, when present, names a PRD.
func Tasks(c *types.TaskCollection) error {
	if c == nil {
		return &Error{Subject: "task collection", Fields: []FieldError{{Field: "document", Tag: "required"}}}
	}
	var fields []FieldError
	seen := make(map[string]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		if t == nil {
			fields = append(fields, FieldError{Field: fmt.Sprintf("tasks[%d]", i), Tag: "required"})
			continue
		}
		if t.ID == "" {
			fields = append(fields, FieldError{Field: fmt.Sprintf("tasks[%d].id", i), Tag: "required"})
			continue
		}
		if seen[t.ID] {
			fields = append(fields, FieldError{Field: fmt.Sprintf("tasks[%d].id", i), Tag: "unique", Value: t.ID})
		}
		seen[t.ID] = true
		if t.PRDSource != nil && t.PRDSource.PRDID == "" && t.PRDSource.FileName == "" {
			fields = append(fields, FieldError{Field: fmt.Sprintf("tasks[%d].prdSource", i), Tag: "required_one_of", Param: "prdId fileName"})
		}
	}
	if len(fields) > 0 {
		return &Error{Subject: "task collection", Fields: fields}
	}
	return nil
}

func toError(subject string, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("validate %s: %w", subject, err)
	}
	out := &Error{Subject: subject, Fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field: trimNamespace(fe.Namespace()),
			Tag:   fe.Tag(),
			Param: fe.Param(),
			Value: fe.Value(),
		})
	}
	return out
}

// trimNamespace drops the root struct name ("PRDCollection.prds[0].id" -> "prds[0].id").
func trimNamespace(ns string) string {
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}
