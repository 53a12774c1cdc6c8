package storage

import (
	"fmt"
	"reflect"

	"github.com/drblury/chassis/entity"
	"github.com/drblury/chassis/internal/core/codec"
	cerrors "github.com/drblury/chassis/internal/core/errors"
)

// Mapper converts entities to rows and back for one entity type.
//
// References to other aggregate roots never serialize inline: a one
// relationship stores the target id, collections store id lists or id maps.
// Reading back produces stub targets holding only the id, callers hydrate
// them through the target's own repository when they need more.
type Mapper struct {
	def    *entity.Definition
	ser    codec.Serializer
	mapAll bool
}

// NewMapper builds a mapper for def. A nil serializer falls back to the
// default JSON codec.
func NewMapper(def *entity.Definition, ser codec.Serializer, mapAll bool) *Mapper {
	if ser == nil {
		ser = codec.Default()
	}
	return &Mapper{def: def, ser: ser, mapAll: mapAll}
}

// Definition returns the mapped entity definition.
func (m *Mapper) Definition() *entity.Definition { return m.def }

// MapAll reports whether every field maps to its own column.
func (m *Mapper) MapAll() bool { return m.mapAll }

// MarshalEntity converts one entity into a row matching Columns(mapAll).
func (m *Mapper) MarshalEntity(e any) (Row, error) {
	if m.mapAll {
		row := Row{}
		for _, f := range m.def.Fields() {
			v, err := m.columnValue(e, f)
			if err != nil {
				return nil, err
			}
			row[f.DBName] = v
		}
		return row, nil
	}

	doc, err := m.documentMap(e)
	if err != nil {
		return nil, err
	}
	data, err := m.ser.Serialize(doc)
	if err != nil {
		return nil, fmt.Errorf("serialize %s document: %w", m.def.Name, err)
	}

	row := Row{entity.DocumentColumn: string(data)}
	for _, f := range m.def.Fields() {
		if f.IsID {
			row[f.DBName] = m.def.IDOf(e)
			continue
		}
		if !f.Indexed || f.DBName == entity.SoftDeleteColumn {
			continue
		}
		v, err := m.columnValue(e, f)
		if err != nil {
			return nil, err
		}
		row[f.DBName] = v
	}
	if m.def.HasSoftDelete() {
		if ts := m.def.DeletedOn(e); ts != nil {
			row[entity.SoftDeleteColumn] = *ts
		} else {
			row[entity.SoftDeleteColumn] = nil
		}
	}
	return row, nil
}

// UnmarshalRow fills target from one stored row. target must be a pointer to
// the mapped entity type.
func (m *Mapper) UnmarshalRow(row Row, target any) error {
	doc, err := m.rowDocument(row)
	if err != nil {
		return err
	}
	expandRelations(doc, m.def.Relationships())
	normalized, err := m.ser.Serialize(doc)
	if err != nil {
		return fmt.Errorf("serialize %s row: %w", m.def.Name, err)
	}
	if err := m.ser.Deserialize(normalized, target); err != nil {
		return fmt.Errorf("decode %s row: %w", m.def.Name, err)
	}
	return nil
}

// SerializeDocument returns the document body stored for e, with root
// references collapsed to ids.
func (m *Mapper) SerializeDocument(e any) ([]byte, error) {
	doc, err := m.documentMap(e)
	if err != nil {
		return nil, err
	}
	return m.ser.Serialize(doc)
}

// DocumentMap returns the attribute map stored for e.
func (m *Mapper) DocumentMap(e any) (map[string]any, error) {
	return m.documentMap(e)
}

func (m *Mapper) rowDocument(row Row) (map[string]any, error) {
	if !m.mapAll {
		data, ok := toBytes(row[entity.DocumentColumn])
		if !ok || len(data) == 0 {
			return nil, fmt.Errorf("%w: row for %s is missing the document column", cerrors.ErrRepository, m.def.Name)
		}
		var doc map[string]any
		if err := m.ser.Deserialize(data, &doc); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", m.def.Name, err)
		}
		return doc, nil
	}

	doc := make(map[string]any, len(m.def.Fields()))
	for _, f := range m.def.Fields() {
		raw, ok := row[f.DBName]
		if !ok {
			continue
		}
		switch {
		case f.Relation != nil && f.Relation.Kind == entity.RelationOne:
			doc[f.JSONName] = raw
		case f.Relation != nil, f.Column == entity.ColumnJSON:
			data, ok := toBytes(raw)
			if !ok || len(data) == 0 {
				doc[f.JSONName] = nil
				continue
			}
			var decoded any
			if err := m.ser.Deserialize(data, &decoded); err != nil {
				return nil, fmt.Errorf("decode %s column %s: %w", m.def.Name, f.DBName, err)
			}
			doc[f.JSONName] = decoded
		default:
			doc[f.JSONName] = raw
		}
	}
	return doc, nil
}

func (m *Mapper) documentMap(e any) (map[string]any, error) {
	data, err := m.ser.Serialize(e)
	if err != nil {
		return nil, fmt.Errorf("serialize %s: %w", m.def.Name, err)
	}
	var doc map[string]any
	if err := m.ser.Deserialize(data, &doc); err != nil {
		return nil, fmt.Errorf("decode serialized %s: %w", m.def.Name, err)
	}
	for _, rel := range m.def.Relationships() {
		raw, ok := doc[rel.JSONName]
		if !ok || raw == nil {
			continue
		}
		switch rel.Kind {
		case entity.RelationOne:
			doc[rel.JSONName] = embeddedID(raw)
		case entity.RelationMany:
			list, ok := raw.([]any)
			if !ok {
				continue
			}
			ids := make([]any, 0, len(list))
			for _, el := range list {
				ids = append(ids, embeddedID(el))
			}
			doc[rel.JSONName] = ids
		case entity.RelationMap:
			mp, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			for k, el := range mp {
				mp[k] = embeddedID(el)
			}
		}
	}
	return doc, nil
}

func (m *Mapper) columnValue(e any, f entity.Field) (any, error) {
	v, err := m.def.FieldValue(e, f)
	if err != nil {
		return nil, err
	}
	if f.Relation == nil {
		if f.Column != entity.ColumnJSON {
			return v, nil
		}
		data, err := m.ser.Serialize(v)
		if err != nil {
			return nil, fmt.Errorf("serialize %s field %s: %w", m.def.Name, f.Name, err)
		}
		return string(data), nil
	}

	if f.Relation.Kind == entity.RelationOne {
		return relationID(v)
	}
	ids, err := relationIDs(v)
	if err != nil {
		return nil, err
	}
	data, err := m.ser.Serialize(ids)
	if err != nil {
		return nil, fmt.Errorf("serialize %s field %s: %w", m.def.Name, f.Name, err)
	}
	return string(data), nil
}

// embeddedID reduces a serialized root object to its id.
func embeddedID(v any) any {
	obj, ok := v.(map[string]any)
	if !ok {
		return v
	}
	id, _ := obj["id"].(string)
	if id == "" {
		return nil
	}
	return id
}

// expandRelations turns stored id references back into stub objects so the
// document decodes into typed fields.
func expandRelations(doc map[string]any, rels []entity.Relationship) {
	for _, rel := range rels {
		raw, ok := doc[rel.JSONName]
		if !ok || raw == nil {
			continue
		}
		switch rel.Kind {
		case entity.RelationOne:
			if id, ok := raw.(string); ok {
				doc[rel.JSONName] = map[string]any{"id": id}
			}
		case entity.RelationMany:
			list, ok := raw.([]any)
			if !ok {
				continue
			}
			out := make([]any, 0, len(list))
			for _, el := range list {
				if id, ok := el.(string); ok {
					out = append(out, map[string]any{"id": id})
					continue
				}
				out = append(out, el)
			}
			doc[rel.JSONName] = out
		case entity.RelationMap:
			mp, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			for k, el := range mp {
				if id, ok := el.(string); ok {
					mp[k] = map[string]any{"id": id}
				}
			}
		}
	}
}

func relationID(v any) (any, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, nil
	}
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}
		rv = rv.Elem()
	}
	td, err := entity.DescribeType(rv.Type())
	if err != nil {
		return nil, err
	}
	id := td.IDOf(rv.Interface())
	if id == "" {
		return nil, nil
	}
	return id, nil
}

func relationIDs(v any) (any, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.IsZero() {
		return nil, nil
	}
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		ids := make([]any, 0, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			id, err := relationID(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			ids = append(ids, id)
		}
		return ids, nil
	case reflect.Map:
		ids := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			id, err := relationID(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			ids[iter.Key().String()] = id
		}
		return ids, nil
	default:
		return nil, fmt.Errorf("%w: field is not a root collection", cerrors.ErrInvalidArgument)
	}
}

func toBytes(v any) ([]byte, bool) {
	switch t := v.(type) {
	case []byte:
		return t, true
	case string:
		return []byte(t), true
	default:
		return nil, false
	}
}
