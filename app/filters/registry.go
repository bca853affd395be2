package filters

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/amirphl/company-segments/models"
)

// FieldDefinition declares one filterable field
type FieldDefinition struct {
	Object models.FilterObject
	Field  string
	Label  string
	Type   models.FieldType
	// Column defaults to Field
	Column string
	// Expression replaces the column for synthesized attributes; {alias} is the company alias
	Expression string
	// Operators overrides the type defaults when set
	Operators  []models.FilterOperator
	Translator Translator
}

// AllowedOperators returns the operators valid for this field
func (d FieldDefinition) AllowedOperators() []models.FilterOperator {
	if len(d.Operators) > 0 {
		return d.Operators
	}
	return DefaultOperators(d.Type)
}

type fieldKey struct {
	object models.FilterObject
	field  string
}

// Registry resolves field+object pairs to their declared type, operators and translator
type Registry struct {
	mu     sync.RWMutex
	fields map[fieldKey]FieldDefinition
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{fields: make(map[fieldKey]FieldDefinition)}
}

// NewCompanyRegistry creates a registry holding the standard company fields
func NewCompanyRegistry() *Registry {
	r := NewRegistry()
	for _, def := range companyFields() {
		if err := r.Register(def); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a field definition. Registering the same field twice is an error.
func (r *Registry) Register(def FieldDefinition) error {
	if def.Field == "" || def.Object == "" {
		return fmt.Errorf("field definition requires field and object")
	}
	if def.Field == models.SegmentReferenceField {
		return fmt.Errorf("field %q is reserved for segment membership", def.Field)
	}
	if DefaultOperators(def.Type) == nil {
		return fmt.Errorf("field %q has unknown type %q", def.Field, def.Type)
	}
	for _, op := range def.Operators {
		if !slices.Contains(DefaultOperators(def.Type), op) && def.Translator == nil {
			return fmt.Errorf("field %q: operator %s needs a custom translator", def.Field, op)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	key := fieldKey{def.Object, def.Field}
	if _, exists := r.fields[key]; exists {
		return fmt.Errorf("field %s.%s already registered", def.Object, def.Field)
	}
	r.fields[key] = def
	return nil
}

// Lookup returns the definition of a field
func (r *Registry) Lookup(object models.FilterObject, field string) (FieldDefinition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if object == "" {
		object = models.FilterObjectCompany
	}
	def, ok := r.fields[fieldKey{object, field}]
	return def, ok
}

// LookupField implements models.FieldTypeLookup
func (r *Registry) LookupField(object models.FilterObject, field string) (models.FieldType, []models.FilterOperator, bool) {
	def, ok := r.Lookup(object, field)
	if !ok {
		return "", nil, false
	}
	return def.Type, def.AllowedOperators(), true
}

// Fields lists the registered definitions ordered by object and field
func (r *Registry) Fields() []FieldDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]FieldDefinition, 0, len(r.fields))
	for _, def := range r.fields {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Object != out[j].Object {
			return out[i].Object < out[j].Object
		}
		return out[i].Field < out[j].Field
	})
	return out
}

func companyFields() []FieldDefinition {
	company := models.FilterObjectCompany
	return []FieldDefinition{
		{Object: company, Field: "id", Label: "Company ID", Type: models.FieldTypeNumber},
		{Object: company, Field: "companyname", Label: "Name", Type: models.FieldTypeText},
		{Object: company, Field: "companyemail", Label: "Email", Type: models.FieldTypeText},
		{Object: company, Field: "companyphone", Label: "Phone", Type: models.FieldTypeText},
		{Object: company, Field: "companywebsite", Label: "Website", Type: models.FieldTypeText},
		{Object: company, Field: "companyaddress1", Label: "Address", Type: models.FieldTypeText},
		{Object: company, Field: "companycity", Label: "City", Type: models.FieldTypeText},
		{Object: company, Field: "companystate", Label: "State", Type: models.FieldTypeSelect},
		{Object: company, Field: "companyzipcode", Label: "Zip code", Type: models.FieldTypeText},
		{Object: company, Field: "companycountry", Label: "Country", Type: models.FieldTypeSelect},
		{Object: company, Field: "companyindustry", Label: "Industry", Type: models.FieldTypeSelect},
		{Object: company, Field: "companyrevenue", Label: "Annual revenue", Type: models.FieldTypeNumber},
		{Object: company, Field: "companynumber_of_employees", Label: "Employees", Type: models.FieldTypeNumber},
		{Object: company, Field: "companydescription", Label: "Description", Type: models.FieldTypeText},
		{Object: company, Field: "is_published", Label: "Published", Type: models.FieldTypeBoolean},
		{Object: company, Field: "date_added", Label: "Date added", Type: models.FieldTypeDateTime},
		{Object: company, Field: "date_modified", Label: "Date modified", Type: models.FieldTypeDateTime},
		{
			Object: company,
			Field:  "segment_count",
			Label:  "Segment memberships",
			Type:   models.FieldTypeNumber,
			Expression: "(SELECT COUNT(*) FROM company_segment_members sc " +
				"WHERE sc.company_id = {alias}.id AND sc.manually_removed = false)",
			Operators: []models.FilterOperator{
				models.OpEq, models.OpNeq, models.OpGt, models.OpGte, models.OpLt, models.OpLte, models.OpBetween,
			},
		},
	}
}
