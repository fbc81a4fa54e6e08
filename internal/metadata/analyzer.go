package metadata

import (
	"fmt"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/nlstn/go-admin/internal/errs"
	"github.com/shopspring/decimal"
	"gorm.io/gorm/schema"
)

// SearchType controls how a property takes part in free-text search.
type SearchType int

const (
	// SearchNone excludes the property from search.
	SearchNone SearchType = iota
	// SearchContains matches when the upper-cased value contains the upper-cased token.
	SearchContains
	// SearchStartsWith matches when the string form of the value starts with the token.
	SearchStartsWith
	// SearchExact matches the upper-cased value against the upper-cased token.
	// The token None matches null values.
	SearchExact
)

func (s SearchType) String() string {
	switch s {
	case SearchNone:
		return "none"
	case SearchContains:
		return "contains"
	case SearchStartsWith:
		return "startswith"
	case SearchExact:
		return "exact"
	default:
		return "SearchType(" + strconv.Itoa(int(s)) + ")"
	}
}

// ParseSearchType parses the value of an admin:"search=..." tag.
func ParseSearchType(value string) (SearchType, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "contains":
		return SearchContains, nil
	case "startswith", "starts-with", "prefix":
		return SearchStartsWith, nil
	case "exact", "equals":
		return SearchExact, nil
	case "none":
		return SearchNone, nil
	default:
		return SearchNone, errs.InvalidArgumentf("unknown search type %q", value)
	}
}

// RelationKind mirrors the relationship kinds GORM resolves for a navigation.
type RelationKind string

const (
	HasOne    RelationKind = RelationKind(schema.HasOne)
	HasMany   RelationKind = RelationKind(schema.HasMany)
	BelongsTo RelationKind = RelationKind(schema.BelongsTo)
	Many2Many RelationKind = RelationKind(schema.Many2Many)
)

// PropertyDescriptor describes a scalar member of an entity.
type PropertyDescriptor struct {
	Name        string
	Column      string
	RuntimeType reflect.Type
	// Index is the struct field index path, nil for calculated properties.
	Index []int

	IsPrimaryKey        bool
	IsForeignKey        bool
	IsNullable          bool
	IsReadOnly          bool
	IsCalculated        bool
	IsSortable          bool
	IsExcludedFromQuery bool
	AutoIncrement       bool
	Hidden              bool

	Order        *int
	SearchType   SearchType
	DisplayName  string
	KeyGenerator string
}

// Queryable reports whether the property maps to a column the store can read.
func (p *PropertyDescriptor) Queryable() bool {
	return !p.IsCalculated && !p.IsExcludedFromQuery
}

// navigationInfo is the depth-independent part of a navigation.
type navigationInfo struct {
	name         string
	index        []int
	fieldType    reflect.Type
	elemType     reflect.Type
	isCollection bool
	isNullable   bool
	relation     RelationKind
	searchable   bool
	hidden       bool
	displayName  string
	targetSchema *schema.Schema
}

// HookSet records which lifecycle hooks an entity implements.
type HookSet struct {
	HasBeforeCreate bool
	HasAfterCreate  bool
	HasBeforeUpdate bool
	HasAfterUpdate  bool
	HasBeforeDelete bool
	HasAfterDelete  bool
}

// entityInfo is the cached analysis of one entity type.
type entityInfo struct {
	typ         reflect.Type
	name        string
	setName     string
	table       string
	schema      *schema.Schema
	properties  []PropertyDescriptor
	navigations []navigationInfo
	keyless     bool
	hooks       HookSet
}

// methods that are never treated as calculated properties
var reservedMethods = map[string]bool{
	"TableName":     true,
	"EntitySetName": true,
	"String":        true,
	"GoString":      true,
	"Error":         true,
	"IsProxy":       true,
	"DeclaredType":  true,
}

// analyzeSchema extracts the admin view of an entity from its parsed GORM schema.
func analyzeSchema(sch *schema.Schema) (*entityInfo, error) {
	entityType := sch.ModelType
	info := &entityInfo{
		typ:     entityType,
		name:    entityType.Name(),
		setName: getEntitySetName(entityType),
		table:   sch.Table,
		schema:  sch,
	}

	foreignKeys := foreignKeyFields(sch)
	fieldNames := make(map[string]bool, len(sch.Fields))

	for _, field := range sch.Fields {
		fieldNames[field.Name] = true
		tag := parseAdminTag(field.StructField.Tag.Get("admin"))

		if rel, ok := sch.Relationships.Relations[field.Name]; ok {
			nav, err := analyzeNavigation(field, rel, tag)
			if err != nil {
				return nil, fmt.Errorf("error analyzing navigation %s.%s: %w", info.name, field.Name, err)
			}
			info.navigations = append(info.navigations, nav)
			continue
		}

		property, err := analyzeField(field, tag)
		if err != nil {
			return nil, fmt.Errorf("error analyzing field %s.%s: %w", info.name, field.Name, err)
		}
		property.IsForeignKey = foreignKeys[field.Name]
		info.properties = append(info.properties, property)
	}

	info.properties = append(info.properties, calculatedProperties(entityType, fieldNames)...)
	info.keyless = len(sch.PrimaryFields) == 0
	sortProperties(info.properties)
	detectHooks(info)

	return info, nil
}

func analyzeField(field *schema.Field, tag adminTag) (PropertyDescriptor, error) {
	property := PropertyDescriptor{
		Name:                field.Name,
		Column:              field.DBName,
		RuntimeType:         field.FieldType,
		Index:               structIndex(field.StructField.Index),
		IsPrimaryKey:        field.PrimaryKey,
		IsNullable:          isTypeNullable(field.FieldType) && !field.NotNull,
		IsReadOnly:          !field.Updatable,
		IsSortable:          true,
		IsExcludedFromQuery: !field.Readable || field.DBName == "",
		AutoIncrement:       field.AutoIncrement,
		DisplayName:         field.Name,
	}

	for _, part := range tag.parts {
		if err := processAdminTagPart(&property, part); err != nil {
			return property, err
		}
	}

	if property.IsExcludedFromQuery {
		property.IsSortable = false
		property.SearchType = SearchNone
	}
	if property.KeyGenerator != "" && !property.IsPrimaryKey {
		return property, errs.InvalidArgumentf("key generator configured for non-key field %s", property.Name)
	}
	return property, nil
}

func processAdminTagPart(property *PropertyDescriptor, part string) error {
	switch {
	case part == "search" || strings.HasPrefix(part, "search="):
		searchType, err := ParseSearchType(strings.TrimPrefix(strings.TrimPrefix(part, "search"), "="))
		if err != nil {
			return err
		}
		property.SearchType = searchType
	case strings.HasPrefix(part, "order="):
		order, err := strconv.Atoi(strings.TrimPrefix(part, "order="))
		if err != nil {
			return errs.InvalidArgumentf("invalid order %q", part)
		}
		property.Order = &order
	case part == "nosort":
		property.IsSortable = false
	case part == "readonly":
		property.IsReadOnly = true
	case part == "hidden":
		property.Hidden = true
	case part == "noquery":
		property.IsExcludedFromQuery = true
	case part == "nullable":
		property.IsNullable = true
	case strings.HasPrefix(part, "label="):
		property.DisplayName = strings.TrimPrefix(part, "label=")
	case strings.HasPrefix(part, "generate="):
		property.KeyGenerator = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(part, "generate=")))
	case part == "":
	default:
		return errs.InvalidArgumentf("unknown admin tag %q", part)
	}
	return nil
}

func analyzeNavigation(field *schema.Field, rel *schema.Relationship, tag adminTag) (navigationInfo, error) {
	fieldType := field.FieldType
	elemType := dereferenceType(fieldType)
	isCollection := elemType.Kind() == reflect.Slice || elemType.Kind() == reflect.Array
	if isCollection {
		elemType = dereferenceType(elemType.Elem())
	}
	if elemType.Kind() != reflect.Struct {
		return navigationInfo{}, errs.InvalidArgumentf("navigation %s does not target a struct", field.Name)
	}

	nav := navigationInfo{
		name:         field.Name,
		index:        structIndex(field.StructField.Index),
		fieldType:    fieldType,
		elemType:     elemType,
		isCollection: isCollection,
		isNullable:   isCollection || fieldType.Kind() == reflect.Ptr,
		relation:     RelationKind(rel.Type),
		displayName:  field.Name,
		targetSchema: rel.FieldSchema,
	}
	for _, part := range tag.parts {
		switch {
		case part == "search":
			nav.searchable = true
		case part == "hidden":
			nav.hidden = true
		case strings.HasPrefix(part, "label="):
			nav.displayName = strings.TrimPrefix(part, "label=")
		case part == "":
		default:
			return nav, errs.InvalidArgumentf("unknown admin tag %q on navigation", part)
		}
	}
	return nav, nil
}

// structIndex turns a GORM field index, which stores a step through an
// embedded pointer as -i-1, into a reflect index path.
func structIndex(index []int) []int {
	result := make([]int, len(index))
	for i, x := range index {
		if x < 0 {
			x = -x - 1
		}
		result[i] = x
	}
	return result
}

// foreignKeyFields collects the fields of sch that hold a key of another row.
func foreignKeyFields(sch *schema.Schema) map[string]bool {
	result := make(map[string]bool)
	for _, rel := range sch.Relationships.Relations {
		for _, ref := range rel.References {
			if ref.ForeignKey == nil || ref.ForeignKey.Schema == nil {
				continue
			}
			if ref.ForeignKey.Schema.ModelType == sch.ModelType {
				result[ref.ForeignKey.Name] = true
			}
		}
	}
	return result
}

// markInboundForeignKeys flags the properties of target that relations of
// from store their foreign key in. Descriptors built earlier share the
// property slice, so a marked slice is a fresh copy.
func markInboundForeignKeys(from *schema.Schema, target *entityInfo) {
	if from == nil {
		return
	}
	var names map[string]bool
	for _, rel := range from.Relationships.Relations {
		for _, ref := range rel.References {
			fk := ref.ForeignKey
			if fk == nil || fk.Schema == nil || fk.Schema.ModelType != target.typ {
				continue
			}
			if names == nil {
				names = make(map[string]bool)
			}
			names[fk.Name] = true
		}
	}
	if len(names) == 0 {
		return
	}

	var properties []PropertyDescriptor
	for i, p := range target.properties {
		if !names[p.Name] || p.IsForeignKey || p.IsCalculated {
			continue
		}
		if properties == nil {
			properties = append([]PropertyDescriptor(nil), target.properties...)
		}
		properties[i].IsForeignKey = true
	}
	if properties != nil {
		target.properties = properties
	}
}

// calculatedProperties finds exported value-receiver methods without
// arguments that return a single scalar.
func calculatedProperties(entityType reflect.Type, fieldNames map[string]bool) []PropertyDescriptor {
	var result []PropertyDescriptor
	for i := 0; i < entityType.NumMethod(); i++ {
		method := entityType.Method(i)
		if !method.IsExported() || reservedMethods[method.Name] || fieldNames[method.Name] {
			continue
		}
		if strings.HasPrefix(method.Name, "Admin") {
			continue
		}
		mt := method.Type
		if mt.NumIn() != 1 || mt.NumOut() != 1 || !isScalarType(mt.Out(0)) {
			continue
		}
		result = append(result, PropertyDescriptor{
			Name:         method.Name,
			RuntimeType:  mt.Out(0),
			IsNullable:   isTypeNullable(mt.Out(0)),
			IsReadOnly:   true,
			IsCalculated: true,
			DisplayName:  method.Name,
		})
	}
	return result
}

// sortProperties orders unordered primary keys first, then explicitly ordered
// properties, then everything else in declaration order.
func sortProperties(properties []PropertyDescriptor) {
	rank := func(p *PropertyDescriptor) int {
		switch {
		case p.Order != nil:
			return 1
		case p.IsPrimaryKey:
			return 0
		default:
			return 2
		}
	}
	sort.SliceStable(properties, func(i, j int) bool {
		ri, rj := rank(&properties[i]), rank(&properties[j])
		if ri != rj {
			return ri < rj
		}
		if ri == 1 {
			return *properties[i].Order < *properties[j].Order
		}
		return false
	})
}

func detectHooks(info *entityInfo) {
	valueType := info.typ
	ptrType := reflect.PointerTo(info.typ)
	has := func(name string) bool {
		return hasMethod(valueType, name) || hasMethod(ptrType, name)
	}

	info.hooks.HasBeforeCreate = has("AdminBeforeCreate")
	info.hooks.HasAfterCreate = has("AdminAfterCreate")
	info.hooks.HasBeforeUpdate = has("AdminBeforeUpdate")
	info.hooks.HasAfterUpdate = has("AdminAfterUpdate")
	info.hooks.HasBeforeDelete = has("AdminBeforeDelete")
	info.hooks.HasAfterDelete = has("AdminAfterDelete")
}

func hasMethod(t reflect.Type, methodName string) bool {
	_, found := t.MethodByName(methodName)
	return found
}

type adminTag struct {
	parts []string
}

func parseAdminTag(tag string) adminTag {
	if tag == "" {
		return adminTag{}
	}
	parts := strings.Split(tag, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return adminTag{parts: parts}
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
)

func isScalarType(t reflect.Type) bool {
	t = dereferenceType(t)
	if t == timeType || t == decimalType {
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func isTypeNullable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	case reflect.Struct:
		// sql.NullString and friends
		valid, ok := t.FieldByName("Valid")
		return ok && valid.Type.Kind() == reflect.Bool
	default:
		return false
	}
}

func dereferenceType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

// pluralize returns the English plural form of word.
func pluralize(word string) string {
	if word == "" {
		return word
	}

	switch {
	case strings.HasSuffix(word, "y") && len(word) > 1 && !isVowel(rune(word[len(word)-2])):
		return word[:len(word)-1] + "ies"
	case strings.HasSuffix(word, "s") || strings.HasSuffix(word, "x") || strings.HasSuffix(word, "z") ||
		strings.HasSuffix(word, "ch") || strings.HasSuffix(word, "sh"):
		return word + "es"
	default:
		return word + "s"
	}
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'A', 'E', 'I', 'O', 'U':
		return true
	default:
		return false
	}
}

// getEntitySetName uses an EntitySetName() string method when the entity has
// one and falls back to pluralizing the type name.
func getEntitySetName(entityType reflect.Type) string {
	if name := tryGetEntitySetName(entityType, entityType); name != "" {
		return name
	}
	if name := tryGetEntitySetName(reflect.PointerTo(entityType), entityType); name != "" {
		return name
	}
	return pluralize(entityType.Name())
}

func tryGetEntitySetName(checkType reflect.Type, entityType reflect.Type) string {
	method, found := checkType.MethodByName("EntitySetName")
	if !found {
		return ""
	}

	methodType := method.Type
	if methodType.NumIn() != 1 || methodType.NumOut() != 1 || methodType.Out(0).Kind() != reflect.String {
		return ""
	}

	var zeroVal reflect.Value
	if checkType.Kind() == reflect.Ptr {
		zeroVal = reflect.New(entityType)
	} else {
		zeroVal = reflect.New(entityType).Elem()
	}

	result := zeroVal.MethodByName("EntitySetName").Call(nil)
	if len(result) > 0 {
		return result[0].String()
	}
	return ""
}
