package entity

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	cerrors "github.com/drblury/chassis/internal/core/errors"
)

// ColumnType is the storage independent type of a derived column. Dialects
// translate it into concrete DDL types.
type ColumnType string

const (
	ColumnString   ColumnType = "string"
	ColumnInteger  ColumnType = "integer"
	ColumnFloat    ColumnType = "float"
	ColumnBool     ColumnType = "bool"
	ColumnDatetime ColumnType = "datetime"
	ColumnJSON     ColumnType = "json"
)

// DocumentColumn is the column holding the serialized entity body when the
// backend is not mapping every field to its own column.
const DocumentColumn = "document"

// SoftDeleteColumn is the column recording soft deletion. It is always a real
// column so backends can filter deleted rows without opening the document.
const SoftDeleteColumn = "deleted_on"

const idLength = 36

// Column describes one derived table column.
type Column struct {
	Name   string
	Type   ColumnType
	Length int
	IsID   bool
}

// Index describes one derived table index. Fields sharing an explicit index
// name form a composite index.
type Index struct {
	Table   string
	Name    string
	Columns []string
	Unique  bool
}

// RelationKind distinguishes how a root reference is held.
type RelationKind int

const (
	RelationOne RelationKind = iota + 1
	RelationMany
	RelationMap
)

func (k RelationKind) String() string {
	switch k {
	case RelationOne:
		return "one"
	case RelationMany:
		return "many"
	case RelationMap:
		return "map"
	default:
		return "unknown"
	}
}

// Relationship describes a field referencing another aggregate root.
type Relationship struct {
	Field    string
	JSONName string
	DBName   string
	Kind     RelationKind
	Target   reflect.Type
}

// Field is one flattened struct field of an entity.
type Field struct {
	Name      string
	DBName    string
	JSONName  string
	Path      []int
	Type      reflect.Type
	Column    ColumnType
	Length    int
	IsID      bool
	Indexed   bool
	IndexName string
	Unique    bool
	Relation  *Relationship
}

// Definition is the derived storage description of an entity type. Instances
// are cached per type, Describe never rebuilds one.
type Definition struct {
	Name  string
	Table string

	typ         reflect.Type
	fields      []Field
	idPath      []int
	createdPath []int
	updatedPath []int
	deletedPath []int
}

var (
	definitions sync.Map

	timeType          = reflect.TypeOf(time.Time{})
	timePtrType       = reflect.TypeOf((*time.Time)(nil))
	aggregateRootType = reflect.TypeOf((*AggregateRoot)(nil)).Elem()
	tableNamerType    = reflect.TypeOf((*TableNamer)(nil)).Elem()
)

// Describe returns the cached Definition for T.
func Describe[T any]() (*Definition, error) {
	return DescribeType(reflect.TypeOf((*T)(nil)).Elem())
}

// DescribeType returns the cached Definition for t, building it on first use.
func DescribeType(t reflect.Type) (*Definition, error) {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return nil, fmt.Errorf("%w: nil entity type", cerrors.ErrInvalidArgument)
	}
	if cached, ok := definitions.Load(t); ok {
		return cached.(*Definition), nil
	}
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: entity type %s is not a struct", cerrors.ErrInvalidArgument, t)
	}
	d, err := buildDefinition(t)
	if err != nil {
		return nil, err
	}
	actual, _ := definitions.LoadOrStore(t, d)
	return actual.(*Definition), nil
}

func buildDefinition(t reflect.Type) (*Definition, error) {
	d := &Definition{
		Name:  t.Name(),
		Table: tableName(t),
		typ:   t,
	}
	if err := d.collectFields(t, nil); err != nil {
		return nil, err
	}
	for i := range d.fields {
		f := &d.fields[i]
		switch {
		case f.IsID:
			if d.idPath != nil {
				return nil, fmt.Errorf("%w: entity %s declares more than one id field", cerrors.ErrInvalidArgument, d.Name)
			}
			d.idPath = f.Path
		case f.DBName == "created_on" && f.Column == ColumnDatetime:
			d.createdPath = f.Path
		case f.DBName == "updated_on" && f.Column == ColumnDatetime:
			d.updatedPath = f.Path
		case f.DBName == SoftDeleteColumn:
			if f.Type != timePtrType {
				return nil, fmt.Errorf("%w: entity %s field %s must be *time.Time", cerrors.ErrInvalidArgument, d.Name, f.Name)
			}
			d.deletedPath = f.Path
		}
	}
	if d.idPath == nil {
		for i := range d.fields {
			f := &d.fields[i]
			if f.DBName == "id" && f.Type.Kind() == reflect.String {
				f.IsID = true
				if f.Length == 0 {
					f.Length = idLength
				}
				d.idPath = f.Path
				break
			}
		}
	}
	if d.idPath == nil {
		return nil, fmt.Errorf("%w: entity %s has no id field", cerrors.ErrInvalidArgument, d.Name)
	}
	return d, nil
}

func (d *Definition) collectFields(t reflect.Type, prefix []int) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		path := append(append([]int(nil), prefix...), i)
		if sf.Anonymous && sf.Tag.Get("json") == "" {
			ft := sf.Type
			if ft.Kind() == reflect.Pointer {
				return fmt.Errorf("%w: entity %s embeds pointer type %s", cerrors.ErrInvalidArgument, d.Name, ft)
			}
			if ft.Kind() == reflect.Struct && ft != timeType {
				if err := d.collectFields(ft, path); err != nil {
					return err
				}
				continue
			}
		}
		if sf.PkgPath != "" {
			continue
		}
		jsonName, skip := jsonFieldName(sf)
		if skip {
			continue
		}
		f := Field{
			Name:     sf.Name,
			DBName:   dbFieldName(sf),
			JSONName: jsonName,
			Path:     path,
			Type:     sf.Type,
		}
		if err := applyTag(&f, sf.Tag.Get("chassis"), d.Name); err != nil {
			return err
		}
		if rel := relationFor(sf.Type); rel != nil {
			rel.Field = sf.Name
			rel.JSONName = f.JSONName
			rel.DBName = f.DBName
			f.Relation = rel
		}
		f.Column = columnTypeFor(sf.Type, f.Relation)
		if f.Length == 0 && (f.IsID || (f.Relation != nil && f.Relation.Kind == RelationOne)) {
			f.Length = idLength
		}
		d.fields = append(d.fields, f)
	}
	return nil
}

func relationFor(t reflect.Type) *Relationship {
	switch t.Kind() {
	case reflect.Pointer:
		if isRoot(t.Elem()) {
			return &Relationship{Kind: RelationOne, Target: t.Elem()}
		}
	case reflect.Struct:
		if isRoot(t) {
			return &Relationship{Kind: RelationOne, Target: t}
		}
	case reflect.Slice, reflect.Array:
		if et := derefType(t.Elem()); isRoot(et) {
			return &Relationship{Kind: RelationMany, Target: et}
		}
	case reflect.Map:
		if t.Key().Kind() != reflect.String {
			return nil
		}
		if et := derefType(t.Elem()); isRoot(et) {
			return &Relationship{Kind: RelationMap, Target: et}
		}
	}
	return nil
}

func isRoot(t reflect.Type) bool {
	if t.Kind() != reflect.Struct {
		return false
	}
	return t.Implements(aggregateRootType) || reflect.PointerTo(t).Implements(aggregateRootType)
}

func derefType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

func columnTypeFor(t reflect.Type, rel *Relationship) ColumnType {
	if rel != nil {
		if rel.Kind == RelationOne {
			return ColumnString
		}
		return ColumnJSON
	}
	base := derefType(t)
	if base == timeType {
		return ColumnDatetime
	}
	switch base.Kind() {
	case reflect.String:
		return ColumnString
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return ColumnInteger
	case reflect.Float32, reflect.Float64:
		return ColumnFloat
	case reflect.Bool:
		return ColumnBool
	default:
		return ColumnJSON
	}
}

func applyTag(f *Field, tag, entityName string) error {
	if tag == "" {
		return nil
	}
	for _, part := range strings.Split(tag, ",") {
		part = strings.TrimSpace(part)
		switch {
		case part == "":
		case part == "id":
			f.IsID = true
		case part == "index":
			f.Indexed = true
		case part == "unique":
			f.Indexed = true
			f.Unique = true
		case strings.HasPrefix(part, "index="):
			f.Indexed = true
			f.IndexName = strings.TrimPrefix(part, "index=")
		case strings.HasPrefix(part, "length="):
			n, err := strconv.Atoi(strings.TrimPrefix(part, "length="))
			if err != nil || n <= 0 {
				return fmt.Errorf("%w: entity %s field %s has invalid length %q", cerrors.ErrInvalidArgument, entityName, f.Name, part)
			}
			f.Length = n
		default:
			return fmt.Errorf("%w: entity %s field %s has unknown tag directive %q", cerrors.ErrInvalidArgument, entityName, f.Name, part)
		}
	}
	return nil
}

func jsonFieldName(sf reflect.StructField) (name string, skip bool) {
	tag := sf.Tag.Get("json")
	if tag == "-" {
		return "", true
	}
	name, _, _ = strings.Cut(tag, ",")
	if name == "" {
		return sf.Name, false
	}
	return name, false
}

func dbFieldName(sf reflect.StructField) string {
	if tag := sf.Tag.Get("db"); tag != "" {
		name, _, _ := strings.Cut(tag, ",")
		if name != "" && name != "-" {
			return name
		}
	}
	return snakeCase(sf.Name)
}

func tableName(t reflect.Type) string {
	if t.Implements(tableNamerType) {
		return reflect.New(t).Elem().Interface().(TableNamer).TableName()
	}
	if reflect.PointerTo(t).Implements(tableNamerType) {
		return reflect.New(t).Interface().(TableNamer).TableName()
	}
	return snakeCase(t.Name())
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			prevLower := i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1]))
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if prevLower || (i > 0 && nextLower) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Type returns the described struct type.
func (d *Definition) Type() reflect.Type { return d.typ }

// Fields returns the flattened fields in declaration order.
func (d *Definition) Fields() []Field { return d.fields }

// HasSoftDelete reports whether the entity carries a deleted_on field.
func (d *Definition) HasSoftDelete() bool { return d.deletedPath != nil }

// Columns derives the table columns. With mapAll every field becomes its own
// column with the id first. Without it the table holds the id, the serialized
// document, any indexed fields and the soft delete marker.
func (d *Definition) Columns(mapAll bool) []Column {
	if mapAll {
		cols := make([]Column, 0, len(d.fields))
		cols = append(cols, columnFor(d.idField()))
		for _, f := range d.fields {
			if f.IsID {
				continue
			}
			cols = append(cols, columnFor(f))
		}
		return cols
	}

	cols := []Column{columnFor(d.idField()), {Name: DocumentColumn, Type: ColumnJSON}}
	for _, f := range d.fields {
		if !f.Indexed || f.IsID || f.DBName == SoftDeleteColumn {
			continue
		}
		cols = append(cols, columnFor(f))
	}
	if d.deletedPath != nil {
		cols = append(cols, Column{Name: SoftDeleteColumn, Type: ColumnDatetime})
	}
	return cols
}

func columnFor(f Field) Column {
	return Column{Name: f.DBName, Type: f.Column, Length: f.Length, IsID: f.IsID}
}

func (d *Definition) idField() Field {
	for _, f := range d.fields {
		if f.IsID {
			return f
		}
	}
	return Field{}
}

// Indexes derives the table indexes. Fields sharing an explicit index name
// merge into one composite index, unique when any member is unique.
func (d *Definition) Indexes() []Index {
	var out []Index
	pos := map[string]int{}
	for _, f := range d.fields {
		if !f.Indexed {
			continue
		}
		name := f.IndexName
		if name == "" {
			name = "idx_" + d.Table + "_" + f.DBName
		}
		if i, ok := pos[name]; ok {
			out[i].Columns = append(out[i].Columns, f.DBName)
			out[i].Unique = out[i].Unique || f.Unique
			continue
		}
		pos[name] = len(out)
		out = append(out, Index{Table: d.Table, Name: name, Columns: []string{f.DBName}, Unique: f.Unique})
	}
	return out
}

// Relationships returns the fields referencing other aggregate roots.
func (d *Definition) Relationships() []Relationship {
	var out []Relationship
	for _, f := range d.fields {
		if f.Relation != nil {
			out = append(out, *f.Relation)
		}
	}
	return out
}

func (d *Definition) structValue(e any) (reflect.Value, error) {
	v := reflect.ValueOf(e)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return reflect.Value{}, fmt.Errorf("%w: nil entity", cerrors.ErrInvalidArgument)
		}
		v = v.Elem()
	}
	if !v.IsValid() || v.Type() != d.typ {
		return reflect.Value{}, fmt.Errorf("%w: expected entity of type %s", cerrors.ErrInvalidArgument, d.typ)
	}
	return v, nil
}

func (d *Definition) mutableValue(e any) (reflect.Value, error) {
	v := reflect.ValueOf(e)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return reflect.Value{}, fmt.Errorf("%w: entity must be a non-nil pointer to %s", cerrors.ErrInvalidArgument, d.typ)
	}
	v = v.Elem()
	if v.Type() != d.typ {
		return reflect.Value{}, fmt.Errorf("%w: expected entity of type %s, got %s", cerrors.ErrInvalidArgument, d.typ, v.Type())
	}
	return v, nil
}

// IDOf reads the entity id. Returns empty on a mismatched value.
func (d *Definition) IDOf(e any) string {
	v, err := d.structValue(e)
	if err != nil {
		return ""
	}
	return v.FieldByIndex(d.idPath).String()
}

// SetID writes the entity id. The entity must be a pointer.
func (d *Definition) SetID(e any, id string) error {
	v, err := d.mutableValue(e)
	if err != nil {
		return err
	}
	v.FieldByIndex(d.idPath).SetString(id)
	return nil
}

// MarkCreated stamps the creation time when the entity tracks it.
func (d *Definition) MarkCreated(e any, at time.Time) error {
	if d.createdPath == nil {
		return nil
	}
	v, err := d.mutableValue(e)
	if err != nil {
		return err
	}
	v.FieldByIndex(d.createdPath).Set(reflect.ValueOf(at))
	return nil
}

// MarkUpdated stamps the update time when the entity tracks it.
func (d *Definition) MarkUpdated(e any, at time.Time) error {
	if d.updatedPath == nil {
		return nil
	}
	v, err := d.mutableValue(e)
	if err != nil {
		return err
	}
	v.FieldByIndex(d.updatedPath).Set(reflect.ValueOf(at))
	return nil
}

// MarkDeleted records the soft delete time.
func (d *Definition) MarkDeleted(e any, at time.Time) error {
	if d.deletedPath == nil {
		return fmt.Errorf("%w: entity %s does not support soft delete", cerrors.ErrInvalidArgument, d.Name)
	}
	v, err := d.mutableValue(e)
	if err != nil {
		return err
	}
	v.FieldByIndex(d.deletedPath).Set(reflect.ValueOf(&at))
	return nil
}

// DeletedOn reads the soft delete time, nil when the entity is live.
func (d *Definition) DeletedOn(e any) *time.Time {
	if d.deletedPath == nil {
		return nil
	}
	v, err := d.structValue(e)
	if err != nil {
		return nil
	}
	p, _ := v.FieldByIndex(d.deletedPath).Interface().(*time.Time)
	return p
}

// FieldValue reads one field from the entity.
func (d *Definition) FieldValue(e any, f Field) (any, error) {
	v, err := d.structValue(e)
	if err != nil {
		return nil, err
	}
	return v.FieldByIndex(f.Path).Interface(), nil
}
